package reports

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bryanwahyu/healthmate/internal/domain/ai"
	"github.com/bryanwahyu/healthmate/internal/domain/identity"
	domain "github.com/bryanwahyu/healthmate/internal/domain/reports"
	"github.com/bryanwahyu/healthmate/internal/infra/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ==== fakes ====

type mockAI struct{ mock.Mock }

func (m *mockAI) Analyze(ctx context.Context, img ai.Image) (string, error) {
	args := m.Called(ctx, img)
	return args.String(0), args.Error(1)
}

type mockMedia struct{ mock.Mock }

func (m *mockMedia) UploadAndCleanup(ctx context.Context, localPath, key, contentType string) (string, error) {
	args := m.Called(ctx, localPath, key, contentType)
	return args.String(0), args.Error(1)
}

type fakeFetcher struct {
	mu     sync.Mutex
	images map[string]domain.Image
	err    error
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (domain.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return domain.Image{}, f.err
	}
	img, ok := f.images[url]
	if !ok {
		return domain.Image{}, domain.ErrFetch
	}
	return img, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recorded struct {
	uploads  []string
	analyses []string
	infer    int
}

type fakeRecorder struct {
	mu sync.Mutex
	recorded
}

func (r *fakeRecorder) ObserveUpload(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, outcome)
}

func (r *fakeRecorder) ObserveAnalysis(stage domain.Stage, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses = append(r.analyses, string(stage)+"/"+outcome)
}

func (r *fakeRecorder) ObserveInference(time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infer++
}

type fixture struct {
	svc     *Service
	repo    domain.Repository
	ai      *mockAI
	media   *mockMedia
	fetcher *fakeFetcher
	metrics *fakeRecorder
	tmpDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, repo, err := db.Setup(context.Background(), db.DriverSQLite, filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	f := &fixture{
		repo:    repo,
		ai:      &mockAI{},
		media:   &mockMedia{},
		fetcher: &fakeFetcher{images: map[string]domain.Image{}},
		metrics: &fakeRecorder{},
		tmpDir:  t.TempDir(),
	}
	f.svc = &Service{
		Repo:            repo,
		Media:           f.media,
		AI:              f.ai,
		Fetcher:         f.fetcher,
		Clock:           fixedClock{time.Date(2025, 4, 9, 8, 0, 0, 0, time.UTC)},
		Metrics:         f.metrics,
		UploadDir:       f.tmpDir,
		AllowReanalysis: true,
	}
	return f
}

func jpeg(size int) []byte {
	b := make([]byte, size)
	copy(b, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	return b
}

func (f *fixture) storedReport(t *testing.T, url string) *domain.Report {
	t.Helper()
	r, err := f.repo.Create(context.Background(), domain.CreateInput{ReportType: "xray", URL: url})
	require.NoError(t, err)
	f.fetcher.images[url] = domain.Image{Data: jpeg(2048), MimeType: "image/jpeg"}
	return r
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged uploads must be removed")
}

// ==== upload ====

func TestUpload_AnonymousJPEG(t *testing.T) {
	f := newFixture(t)
	f.media.On("UploadAndCleanup", mock.Anything, mock.Anything, mock.Anything, "image/jpeg").
		Run(func(args mock.Arguments) {
			data, err := os.ReadFile(args.String(1))
			require.NoError(t, err, "file staged before upload")
			assert.Len(t, data, 2048)
			assert.Regexp(t, `^uploads/2025/04/[0-9a-f-]{36}\.jpg$`, args.String(2))
		}).
		Return("http://media.test/reports/uploads/a.jpg", nil)

	res, err := f.svc.Upload(context.Background(), UploadCommand{
		File:       bytes.NewReader(jpeg(2048)),
		Filename:   "scan.jpg",
		ReportType: "xray",
		Identity:   identity.NewAnonymous(),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, res.Status)
	assert.NotEmpty(t, res.URL)
	assert.NotEmpty(t, res.ReportID)

	stored, err := f.svc.Get(context.Background(), res.ReportID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	assert.Equal(t, "", stored.Analysis)
	assert.Nil(t, stored.UserID)
	assert.Equal(t, "xray", stored.ReportType)

	assertDirEmpty(t, f.tmpDir)
	assert.Equal(t, []string{"success"}, f.metrics.uploads)
	f.media.AssertExpectations(t)
}

func TestUpload_ResolvedUser(t *testing.T) {
	f := newFixture(t)
	f.media.On("UploadAndCleanup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("http://media.test/a.png", nil)

	res, err := f.svc.Upload(context.Background(), UploadCommand{
		File:        bytes.NewReader([]byte("\x89PNG\r\n\x1a\nrest")),
		Filename:    "x.png",
		ContentType: "image/png",
		ReportType:  "blood",
		Identity:    identity.NewResolved("user-9"),
	})
	require.NoError(t, err)

	list, err := f.svc.Latest(context.Background(), "user-9", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.ReportID, list[0].ID)
}

func TestUpload_InvalidToken(t *testing.T) {
	invalid := identity.NewInvalid(errors.New("token expired"))

	t.Run("tolerated", func(t *testing.T) {
		f := newFixture(t)
		f.media.On("UploadAndCleanup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("http://media.test/a.jpg", nil)

		res, err := f.svc.Upload(context.Background(), UploadCommand{
			File: bytes.NewReader(jpeg(64)), ReportType: "xray", Identity: invalid,
		})
		require.NoError(t, err)

		stored, err := f.svc.Get(context.Background(), res.ReportID)
		require.NoError(t, err)
		assert.Nil(t, stored.UserID)
	})

	t.Run("strict", func(t *testing.T) {
		f := newFixture(t)
		f.svc.StrictUploadAuth = true

		_, err := f.svc.Upload(context.Background(), UploadCommand{
			File: bytes.NewReader(jpeg(64)), ReportType: "xray", Identity: invalid,
		})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		f.media.AssertNotCalled(t, "UploadAndCleanup", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestUpload_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		cmd  UploadCommand
	}{
		{"no_file", UploadCommand{ReportType: "xray"}},
		{"no_report_type", UploadCommand{File: bytes.NewReader(jpeg(10))}},
		{"blank_report_type", UploadCommand{File: bytes.NewReader(jpeg(10)), ReportType: "  "}},
		{"empty_file", UploadCommand{File: bytes.NewReader(nil), ReportType: "xray"}},
		{"text_file", UploadCommand{File: bytes.NewReader([]byte("hello world")), ReportType: "xray"}},
		{"declared_text", UploadCommand{File: bytes.NewReader(jpeg(10)), ContentType: "text/plain", ReportType: "xray"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Upload(context.Background(), tt.cmd)
			require.ErrorIs(t, err, domain.ErrBadRequest)
			f.media.AssertNotCalled(t, "UploadAndCleanup", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assertDirEmpty(t, f.tmpDir)
		})
	}
}

func TestUpload_AcceptsPDF(t *testing.T) {
	f := newFixture(t)
	f.media.On("UploadAndCleanup", mock.Anything, mock.Anything, mock.MatchedBy(func(key string) bool {
		return filepath.Ext(key) == ".pdf"
	}), "application/pdf").Return("http://media.test/a.pdf", nil)

	_, err := f.svc.Upload(context.Background(), UploadCommand{
		File: bytes.NewReader([]byte("%PDF-1.7\n...")), Filename: "lab.pdf", ReportType: "lab",
	})

	require.NoError(t, err)
	f.media.AssertExpectations(t)
}

func TestUpload_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.media.On("UploadAndCleanup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("bucket unreachable"))

	_, err := f.svc.Upload(context.Background(), UploadCommand{
		File: bytes.NewReader(jpeg(2048)), ReportType: "xray", Identity: identity.NewResolved("u1"),
	})

	require.ErrorIs(t, err, domain.ErrUploadFailed)
	assert.Contains(t, err.Error(), "bucket unreachable")
	assertDirEmpty(t, f.tmpDir)

	list, err := f.svc.Latest(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, list, "no report without a stored file")
	assert.Equal(t, []string{"store_failed"}, f.metrics.uploads)
}

// ==== analysis ====

func TestAnalyze_ByReportID(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/a.jpg")
	f.ai.On("Analyze", mock.Anything, ai.Image{Data: jpeg(2048), MimeType: "image/jpeg"}).Return("WBC high", nil).Once()

	res, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})

	require.NoError(t, err)
	assert.Equal(t, "WBC high", res.Analysis)
	assert.Equal(t, r.ID, res.ReportID)
	assert.Equal(t, domain.StatusAnalyzed, res.Status)

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnalyzed, stored.Status)
	assert.Equal(t, "WBC high", stored.Analysis)
	assert.Equal(t, []string{"done/success"}, f.metrics.analyses)
	assert.Equal(t, 1, f.metrics.infer)
	f.ai.AssertExpectations(t)
}

func TestAnalyze_ByURLOnly(t *testing.T) {
	f := newFixture(t)
	f.fetcher.images["http://elsewhere.test/x.jpg"] = domain.Image{Data: jpeg(100), MimeType: "image/jpeg"}
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("looks fine", nil)

	res, err := f.svc.Analyze(context.Background(), AnalyzeCommand{URL: "http://elsewhere.test/x.jpg"})

	require.NoError(t, err)
	assert.Equal(t, "looks fine", res.Analysis)
	assert.Empty(t, res.ReportID)
	assert.Empty(t, res.Status)
}

func TestAnalyze_StoredURLWins(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/stored.jpg")
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("ok", nil)

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID, URL: "http://attacker.test/other.jpg"})

	require.NoError(t, err)
	assert.Equal(t, []string{"http://media.test/stored.jpg"}, f.fetcher.calls)
}

func TestAnalyze_NeitherURLNorReportID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{})

	require.ErrorIs(t, err, domain.ErrBadRequest)
	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StageResolving, se.Stage)
	assert.Empty(t, f.fetcher.calls)
	f.ai.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestAnalyze_UnknownReport(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: "nope"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.fetcher.calls)
}

func TestAnalyze_PayloadTooLarge(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/big.jpg")
	f.fetcher.images[r.URL] = domain.Image{Data: make([]byte, 19*1024*1024), MimeType: "image/jpeg"}

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})

	require.ErrorIs(t, err, ai.ErrPayloadTooLarge)
	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StageSizeChecking, se.Stage)
	f.ai.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "size_checking")
}

func TestAnalyze_ReanalysisOverwrites(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/a.jpg")
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("WBC high", nil).Once()
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("WBC normal", nil).Once()

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})
	require.NoError(t, err)
	res, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})
	require.NoError(t, err)
	assert.Equal(t, "WBC normal", res.Analysis)

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "WBC normal", stored.Analysis)
	assert.Equal(t, int64(3), stored.Version)
}

func TestAnalyze_ReanalysisRejected(t *testing.T) {
	f := newFixture(t)
	f.svc.AllowReanalysis = false
	r := f.storedReport(t, "http://media.test/a.jpg")
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("WBC high", nil).Once()

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})
	require.NoError(t, err)

	_, err = f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})
	require.ErrorIs(t, err, domain.ErrAlreadyAnalyzed)
	assert.Len(t, f.fetcher.calls, 1)
	f.ai.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestAnalyze_FailedThenSucceeds(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/a.jpg")
	quota := &ai.InferenceError{Status: 429, Message: "quota"}
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("", quota).Once()
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("all clear", nil).Once()

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})
	require.ErrorIs(t, err, ai.ErrQuotaExceeded)
	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StageInferring, se.Stage)

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	res, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnalyzed, res.Status)
	assert.Equal(t, []string{"inferring/error", "done/success"}, f.metrics.analyses)
}

func TestAnalyze_FetchError(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/a.jpg")
	f.fetcher.err = errors.Join(domain.ErrFetch, errors.New("status 404"))

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})

	require.ErrorIs(t, err, domain.ErrFetch)
	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "fetching")
	f.ai.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestAnalyze_FailureOnAnalyzedReportKeepsAnalysis(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/a.jpg")
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("WBC high", nil).Once()
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("", &ai.InferenceError{Status: 500, Message: "down"}).Once()

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})
	require.NoError(t, err)
	_, err = f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})
	require.ErrorIs(t, err, ai.ErrInference)

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnalyzed, stored.Status)
	assert.Equal(t, "WBC high", stored.Analysis)
}

func TestAnalyze_EmptyTextIsMalformed(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/a.jpg")
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("  ", nil)

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})

	require.ErrorIs(t, err, ai.ErrMalformedResponse)
	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusAnalyzed, stored.Status)
}

func TestAnalyze_CancelledRequestStillMarksFailed(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/a.jpg")
	ctx, cancel := context.WithCancel(context.Background())
	f.ai.On("Analyze", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	_, err := f.svc.Analyze(ctx, AnalyzeCommand{ReportID: r.ID})
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

// racingRepo lets another writer win between the read and the write.
type racingRepo struct {
	domain.Repository
}

func (r racingRepo) FindByID(ctx context.Context, id domain.ReportID) (*domain.Report, error) {
	rep, err := r.Repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.Repository.Update(ctx, id, rep.Version, domain.Analyzed("other writer")); err != nil {
		return nil, err
	}
	return rep, nil
}

func TestAnalyze_VersionConflict(t *testing.T) {
	f := newFixture(t)
	r := f.storedReport(t, "http://media.test/a.jpg")
	f.svc.Repo = racingRepo{f.repo}
	f.ai.On("Analyze", mock.Anything, mock.Anything).Return("mine", nil)

	_, err := f.svc.Analyze(context.Background(), AnalyzeCommand{ReportID: r.ID})

	require.ErrorIs(t, err, domain.ErrVersionConflict)
	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StagePersisting, se.Stage)

	stored, err := f.repo.FindByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "other writer", stored.Analysis)
}

// ==== query ====

func TestLatest(t *testing.T) {
	f := newFixture(t)
	user := "u1"
	for i := 0; i < 3; i++ {
		_, err := f.repo.Create(context.Background(), domain.CreateInput{UserID: &user, ReportType: "xray", URL: "http://x"})
		require.NoError(t, err)
	}

	list, err := f.svc.Latest(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = f.svc.Latest(context.Background(), "u1", 1000)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = f.svc.Latest(context.Background(), "", 10)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGet_BlankID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), " ")
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestFileExt(t *testing.T) {
	assert.Equal(t, ".jpg", fileExt("Scan.JPG", "image/jpeg"))
	assert.Equal(t, ".pdf", fileExt("", "application/pdf"))
	assert.Equal(t, ".png", fileExt("noext", "image/png"))
}
