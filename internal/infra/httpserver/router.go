package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appreports "github.com/bryanwahyu/healthmate/internal/application/reports"
	"github.com/bryanwahyu/healthmate/internal/domain/ai"
	"github.com/bryanwahyu/healthmate/internal/domain/identity"
	domain "github.com/bryanwahyu/healthmate/internal/domain/reports"
	"github.com/bryanwahyu/healthmate/internal/middleware"
)

const (
	defaultMaxUploadBytes = 25 << 20
	multipartMemory       = 8 << 20
	maxJSONBody           = 1 << 20
)

// Options wires the cross-cutting pieces around the report handlers. Nil fields are
// skipped, except Resolver which is required.
type Options struct {
	Logger         *slog.Logger
	Resolver       identity.Resolver
	Metrics        *middleware.Metrics
	RateLimiter    *middleware.RateLimiter
	Health         map[string]middleware.HealthChecker
	Ready          middleware.HealthChecker
	CORSOrigins    []string
	MaxUploadBytes int64
}

type Router struct {
	svc  *appreports.Service
	opts Options
	log  *slog.Logger
}

func NewRouter(svc *appreports.Service, opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	r := &Router{svc: svc, opts: opts, log: opts.Logger}
	if r.log == nil {
		r.log = slog.Default()
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.RequestLogger(r.log))
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	mux.Use(chimw.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	mux.Use(middleware.Authenticate(opts.Resolver))

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/health/live", middleware.LivenessHandler)
	if opts.Ready != nil {
		mux.Get("/health/ready", middleware.ReadinessHandler(opts.Ready))
	}
	if opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mux.Group(func(rt chi.Router) {
		if opts.RateLimiter != nil {
			rt.Use(opts.RateLimiter.Middleware)
		}
		rt.Post("/upload", r.wrap(r.handleUpload))
		rt.Get("/reports/{id}", r.wrap(r.handleGet))

		rt.Group(func(authed chi.Router) {
			authed.Use(middleware.RequireUser)
			authed.Post("/analyze", r.wrap(r.handleAnalyze))
			authed.Get("/reports", r.wrap(r.handleLatest))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type errorResponse struct {
	Message        string `json:"message"`
	Details        string `json:"details,omitempty"`
	Stage          string `json:"stage,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		status, message := statusFor(err)
		resp := errorResponse{Message: message}
		if status != http.StatusNotFound {
			resp.Details = rootMessage(err)
		}
		var se *domain.StageError
		if errors.As(err, &se) {
			resp.Stage = string(se.Stage)
		}
		var ie *ai.InferenceError
		if errors.As(err, &ie) {
			resp.UpstreamStatus = ie.Status
		}

		if status >= http.StatusInternalServerError {
			r.log.Error("request failed", "path", req.URL.Path, "status", status, "error", err,
				"request_id", chimw.GetReqID(req.Context()))
		}
		writeJSON(w, status, resp)
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrBadRequest), errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "Bad request"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Report not found"
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "Report was modified concurrently, retry the analysis"
	case errors.Is(err, domain.ErrAlreadyAnalyzed):
		return http.StatusConflict, "Report already analyzed"
	case errors.Is(err, ai.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.Is(err, ai.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "AI quota exceeded, try again later"
	case errors.Is(err, domain.ErrUploadFailed):
		return http.StatusInternalServerError, "Upload failed"
	case errors.Is(err, domain.ErrFetch),
		errors.Is(err, ai.ErrInference),
		errors.Is(err, ai.ErrMalformedResponse):
		return http.StatusInternalServerError, "Error analyzing image"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// rootMessage drops the pipeline stage prefix; the stage is reported separately.
func rootMessage(err error) string {
	var se *domain.StageError
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// POST /upload (multipart: report=<file>, reportType=<string>)
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.opts.MaxUploadBytes)
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("%w: %v", ai.ErrPayloadTooLarge, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	defer req.MultipartForm.RemoveAll()

	cmd := appreports.UploadCommand{
		ReportType: middleware.SanitizeString(req.FormValue("reportType")),
		Identity:   identity.FromContext(req.Context()),
	}
	file, header, err := req.FormFile("report")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// service reports the missing file
	case err != nil:
		return fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	default:
		defer file.Close()
		cmd.File = file
		cmd.Filename = header.Filename
		cmd.ContentType = header.Header.Get("Content-Type")
	}

	res, err := r.svc.Upload(req.Context(), cmd)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "Report uploaded successfully",
		"url":      res.URL,
		"reportId": res.ReportID,
		"status":   res.Status,
	})
	return nil
}

// POST /analyze {"url": "...", "reportId": "..."}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		URL      string `json:"url"`
		ReportID string `json:"reportId"`
	}
	dec := json.NewDecoder(io.LimitReader(req.Body, maxJSONBody))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}

	cmd := appreports.AnalyzeCommand{
		URL:      strings.TrimSpace(body.URL),
		ReportID: domain.ReportID(strings.TrimSpace(body.ReportID)),
	}
	// a report's own URL is trusted; only direct URLs are checked
	if cmd.ReportID == "" && cmd.URL != "" {
		if err := middleware.ValidateURL(cmd.URL); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
		}
	}

	res, err := r.svc.Analyze(req.Context(), cmd)
	if err != nil {
		return err
	}

	resp := map[string]any{
		"message":  "Analysis complete",
		"analysis": res.Analysis,
	}
	if res.ReportID != "" {
		resp["reportId"] = res.ReportID
		resp["status"] = res.Status
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// GET /reports/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	report, err := r.svc.Get(req.Context(), domain.ReportID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, report)
	return nil
}

// GET /reports?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	id := identity.FromContext(req.Context())

	list, err := r.svc.Latest(req.Context(), id.UserID, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list, "count": len(list)})
	return nil
}
