package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/healthmate/internal/application"
	"github.com/bryanwahyu/healthmate/internal/domain/ai"
	"github.com/bryanwahyu/healthmate/internal/domain/identity"
	domain "github.com/bryanwahyu/healthmate/internal/domain/reports"
)

const (
	defaultKeyPrefix = "uploads"
	defaultListLimit = 20
	maxListLimit     = 100
	sniffLen         = 512
)

// Service implements use-cases untuk Report: upload, analysis, query.
// Safe for concurrent use; concurrent analyses of one report are serialised by the
// repository's version check.
type Service struct {
	Repo    domain.Repository
	Media   domain.MediaStore
	AI      ai.Client
	Fetcher domain.ImageFetcher
	Clock   application.Clock
	Logger  *slog.Logger
	Metrics Recorder

	// UploadDir holds staged uploads; empty means os.TempDir.
	UploadDir string
	// KeyPrefix is the first object key segment, default "uploads".
	KeyPrefix string
	// MaxImageBytes overrides ai.MaxInlineImageBytes when positive.
	MaxImageBytes int
	// AllowReanalysis lets an analyzed report be analyzed again, overwriting the text.
	AllowReanalysis bool
	// StrictUploadAuth rejects uploads carrying an invalid token instead of storing them
	// anonymously.
	StrictUploadAuth bool
}

// Recorder receives use-case metrics.
type Recorder interface {
	ObserveUpload(outcome string)
	ObserveAnalysis(stage domain.Stage, outcome string)
	ObserveInference(d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveUpload(string)                  {}
func (nopRecorder) ObserveAnalysis(domain.Stage, string)  {}
func (nopRecorder) ObserveInference(time.Duration, error) {}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) metrics() Recorder {
	if s.Metrics == nil {
		return nopRecorder{}
	}
	return s.Metrics
}

func (s *Service) imageLimit() int {
	if s.MaxImageBytes > 0 {
		return s.MaxImageBytes
	}
	return ai.MaxInlineImageBytes
}

//
// ==== UPLOAD ====
//

// UploadCommand carries one multipart upload.
type UploadCommand struct {
	File        io.Reader
	Filename    string
	ContentType string
	ReportType  string
	Identity    identity.Identity
}

type UploadResult struct {
	URL      string          `json:"url"`
	ReportID domain.ReportID `json:"reportId"`
	Status   domain.Status   `json:"status"`
}

// Upload stages the file, stores it remotely, then records a processing report.
// No report is created when the media store fails.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (UploadResult, error) {
	if cmd.File == nil {
		return UploadResult{}, fmt.Errorf("%w: report file is required", domain.ErrBadRequest)
	}
	reportType := strings.TrimSpace(cmd.ReportType)
	if reportType == "" {
		return UploadResult{}, fmt.Errorf("%w: reportType is required", domain.ErrBadRequest)
	}
	if len(reportType) > domain.MaxReportTypeLen {
		return UploadResult{}, fmt.Errorf("%w: reportType exceeds %d characters", domain.ErrBadRequest, domain.MaxReportTypeLen)
	}

	userID, err := s.uploader(cmd.Identity)
	if err != nil {
		s.metrics().ObserveUpload("unauthorized")
		return UploadResult{}, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(cmd.File, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return UploadResult{}, fmt.Errorf("%w: read upload: %w", domain.ErrUploadFailed, err)
	}
	if n == 0 {
		return UploadResult{}, fmt.Errorf("%w: report file is empty", domain.ErrBadRequest)
	}
	head = head[:n]

	contentType := detectContentType(cmd.ContentType, head)
	if !allowedContentType(contentType) {
		return UploadResult{}, fmt.Errorf("%w: unsupported content type %q", domain.ErrBadRequest, contentType)
	}

	ext := fileExt(cmd.Filename, contentType)
	localPath, err := s.stage(io.MultiReader(bytes.NewReader(head), cmd.File), ext)
	if localPath != "" {
		// the media store removes it too; this covers failures before the hand-off
		defer os.Remove(localPath)
	}
	if err != nil {
		s.metrics().ObserveUpload("stage_failed")
		return UploadResult{}, fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}

	key := s.objectKey(ext)
	url, err := s.Media.UploadAndCleanup(ctx, localPath, key, contentType)
	if err != nil {
		s.metrics().ObserveUpload("store_failed")
		s.log().Error("media upload failed", "key", key, "error", err)
		return UploadResult{}, fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}

	report, err := s.Repo.Create(ctx, domain.CreateInput{UserID: userID, ReportType: reportType, URL: url})
	if err != nil {
		s.metrics().ObserveUpload("persist_failed")
		s.log().Error("create report failed", "url", url, "error", err)
		return UploadResult{}, fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}

	s.metrics().ObserveUpload("success")
	s.log().Info("report uploaded", "report_id", report.ID, "report_type", reportType, "anonymous", userID == nil)
	return UploadResult{URL: report.URL, ReportID: report.ID, Status: report.Status}, nil
}

// uploader maps the caller identity to the stored user id.
func (s *Service) uploader(id identity.Identity) (*string, error) {
	switch id.Kind {
	case identity.Resolved:
		return id.UserIDPtr(), nil
	case identity.Invalid:
		if s.StrictUploadAuth {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, id.Err)
		}
		s.log().Warn("upload with invalid token stored anonymously", "error", id.Err)
		return nil, nil
	default:
		return nil, nil
	}
}

func (s *Service) stage(r io.Reader, ext string) (string, error) {
	f, err := os.CreateTemp(s.UploadDir, "report-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return f.Name(), fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return f.Name(), fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

// objectKey returns <prefix>/<yyyy>/<mm>/<uuid><ext>.
func (s *Service) objectKey(ext string) string {
	prefix := strings.Trim(s.KeyPrefix, "/")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return fmt.Sprintf("%s/%s/%s%s", prefix, s.now().Format("2006/01"), uuid.NewString(), ext)
}

func detectContentType(declared string, head []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return strings.ToLower(mt)
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	return mt
}

func allowedContentType(ct string) bool {
	return strings.HasPrefix(ct, "image/") || ct == "application/pdf"
}

func fileExt(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 1 && len(ext) <= 6 && !strings.ContainsAny(ext[1:], `./\ `) {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

//
// ==== ANALYSIS ====
//

// AnalyzeCommand selects the image by report id or by direct URL. The stored URL wins
// when both are given.
type AnalyzeCommand struct {
	URL      string
	ReportID domain.ReportID
}

type AnalyzeResult struct {
	Analysis string          `json:"analysis"`
	ReportID domain.ReportID `json:"reportId,omitempty"`
	Status   domain.Status   `json:"status,omitempty"`
}

// Analyze runs Resolving, Fetching, SizeChecking, Inferring and Persisting in order.
// Every returned error is a *domain.StageError. Nothing is retried.
func (s *Service) Analyze(ctx context.Context, cmd AnalyzeCommand) (res AnalyzeResult, err error) {
	var report *domain.Report
	defer func() {
		stage, outcome := domain.StageDone, "success"
		var se *domain.StageError
		if errors.As(err, &se) {
			stage, outcome = se.Stage, "error"
			attrs := []any{"stage", se.Stage, "error", se.Err}
			if report != nil {
				attrs = append(attrs, "report_id", report.ID)
			}
			s.log().Warn("analysis failed", attrs...)
		}
		s.metrics().ObserveAnalysis(stage, outcome)
	}()

	// resolving
	url := strings.TrimSpace(cmd.URL)
	if id := domain.ReportID(strings.TrimSpace(string(cmd.ReportID))); id != "" {
		report, err = s.Repo.FindByID(ctx, id)
		if err != nil {
			return AnalyzeResult{}, &domain.StageError{Stage: domain.StageResolving, Err: err}
		}
		if report.Status == domain.StatusAnalyzed && !s.AllowReanalysis {
			return AnalyzeResult{}, &domain.StageError{Stage: domain.StageResolving, Err: domain.ErrAlreadyAnalyzed}
		}
		url = report.URL
	}
	if url == "" {
		return AnalyzeResult{}, &domain.StageError{
			Stage: domain.StageResolving,
			Err:   fmt.Errorf("%w: url or reportId is required", domain.ErrBadRequest),
		}
	}

	// fetching
	img, err := s.Fetcher.Fetch(ctx, url)
	if err != nil {
		return AnalyzeResult{}, s.fail(ctx, report, domain.StageFetching, err)
	}

	// size checking
	if limit := s.imageLimit(); len(img.Data) > limit {
		return AnalyzeResult{}, s.fail(ctx, report, domain.StageSizeChecking,
			fmt.Errorf("%w: %d bytes (limit %d)", ai.ErrPayloadTooLarge, len(img.Data), limit))
	}

	// inferring
	started := time.Now()
	text, err := s.AI.Analyze(ctx, ai.Image{Data: img.Data, MimeType: img.MimeType})
	s.metrics().ObserveInference(time.Since(started), err)
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("%w: empty analysis text", ai.ErrMalformedResponse)
	}
	if err != nil {
		return AnalyzeResult{}, s.fail(ctx, report, domain.StageInferring, err)
	}

	if report == nil {
		return AnalyzeResult{Analysis: text}, nil
	}

	// persisting
	updated, err := s.Repo.Update(ctx, report.ID, report.Version, domain.Analyzed(text))
	if err != nil {
		return AnalyzeResult{}, &domain.StageError{Stage: domain.StagePersisting, Err: err}
	}

	s.log().Info("report analyzed", "report_id", updated.ID, "version", updated.Version)
	return AnalyzeResult{Analysis: text, ReportID: updated.ID, Status: updated.Status}, nil
}

// fail wraps err with its stage and, for a resolved report, records the failure.
// The write is detached from request cancellation; its own error is only logged.
func (s *Service) fail(ctx context.Context, report *domain.Report, stage domain.Stage, err error) error {
	se := &domain.StageError{Stage: stage, Err: err}
	if report == nil || !report.CanTransition(domain.StatusFailed) {
		return se
	}
	if _, uerr := s.Repo.Update(context.WithoutCancel(ctx), report.ID, report.Version, domain.Failed(report, se.Error())); uerr != nil {
		s.log().Warn("failed to mark report failed", "report_id", report.ID, "error", uerr)
	}
	return se
}

//
// ==== QUERY ====
//

// Get returns one report.
func (s *Service) Get(ctx context.Context, id domain.ReportID) (*domain.Report, error) {
	id = domain.ReportID(strings.TrimSpace(string(id)))
	if id == "" {
		return nil, fmt.Errorf("%w: report id is required", domain.ErrBadRequest)
	}
	return s.Repo.FindByID(ctx, id)
}

// Latest lists a user's reports newest first. limit <= 0 means the default page size.
func (s *Service) Latest(ctx context.Context, userID string, limit int) ([]*domain.Report, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthorized
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.Repo.LatestByUser(ctx, userID, limit)
}
