package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bryanwahyu/healthmate/internal/application"
	appreports "github.com/bryanwahyu/healthmate/internal/application/reports"
	"github.com/bryanwahyu/healthmate/internal/config"
	"github.com/bryanwahyu/healthmate/internal/domain/reports"
	"github.com/bryanwahyu/healthmate/internal/infra/ai/openai"
	"github.com/bryanwahyu/healthmate/internal/infra/auth"
	"github.com/bryanwahyu/healthmate/internal/infra/db"
	"github.com/bryanwahyu/healthmate/internal/infra/fetch"
	"github.com/bryanwahyu/healthmate/internal/infra/httpserver"
	"github.com/bryanwahyu/healthmate/internal/infra/storage"
	"github.com/bryanwahyu/healthmate/internal/logger"
	"github.com/bryanwahyu/healthmate/internal/middleware"
)

// mediaStore is what the server needs from either storage driver.
type mediaStore interface {
	reports.MediaStore
	middleware.Pinger
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Options{
		Development: cfg.IsDevelopment(),
		Level:       cfg.Log.Level,
		SentryDSN:   cfg.Log.SentryDSN,
		Environment: cfg.Env,
	})
	defer logger.Flush()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		logger.Flush()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	conn, repo, err := db.Setup(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer conn.Close()

	store, err := newMediaStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	if cfg.Server.UploadDir != "" {
		if err := os.MkdirAll(cfg.Server.UploadDir, 0o750); err != nil {
			return fmt.Errorf("upload dir: %w", err)
		}
	}

	aiClient := openai.NewClient(cfg.Inference.APIKey, cfg.Inference.BaseURL, cfg.Inference.Model)
	aiClient.Timeout = cfg.Inference.Timeout
	aiClient.MaxImageBytes = cfg.Analysis.MaxImageBytes
	if cfg.Inference.APIKey == "" {
		log.Warn("inference api key not set; analysis requests will fail")
	}

	maxImage := int64(cfg.Analysis.MaxImageBytes)
	if maxImage <= 0 {
		maxImage = 18 * 1024 * 1024
	}

	metrics, err := middleware.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	svc := &appreports.Service{
		Repo:             repo,
		Media:            store,
		AI:               aiClient,
		Fetcher:          fetch.NewClient(cfg.Analysis.FetchTimeout, maxImage),
		Clock:            application.SystemClock{},
		Logger:           log,
		Metrics:          metrics,
		UploadDir:        cfg.Server.UploadDir,
		KeyPrefix:        cfg.Storage.KeyPrefix,
		MaxImageBytes:    cfg.Analysis.MaxImageBytes,
		AllowReanalysis:  cfg.Analysis.AllowReanalysis,
		StrictUploadAuth: cfg.Auth.StrictUpload,
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		defer limiter.Stop()
	}

	dbCheck := &middleware.DatabaseHealthChecker{DB: conn}
	handler := httpserver.NewRouter(svc, httpserver.Options{
		Logger:      log,
		Resolver:    auth.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Metrics:     metrics,
		RateLimiter: limiter,
		Health: map[string]middleware.HealthChecker{
			"database": dbCheck,
			"storage":  &middleware.StorageHealthChecker{Store: store},
		},
		Ready:          dbCheck,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr, "db", cfg.Database.Driver, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newMediaStore(ctx context.Context, cfg *config.Config) (mediaStore, error) {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cfg.Storage.Driver {
	case "s3":
		store, err := storage.NewS3(initCtx, storage.S3Config{
			Region:        cfg.Storage.Region,
			Bucket:        cfg.Storage.BucketName,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			Endpoint:      cfg.StorageEndpointURL(),
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := storage.New(initCtx,
			cfg.Storage.Endpoint,
			cfg.Storage.Region,
			cfg.Storage.BucketName,
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			cfg.Storage.UseSSL,
			cfg.StoragePublicBaseURL(),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
