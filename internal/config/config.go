package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Env is "development" or "production".
	Env string `yaml:"env"`

	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		IdleTimeout     time.Duration `yaml:"idleTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
		MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
		UploadDir       string        `yaml:"uploadDir"`
		CORSOrigins     []string      `yaml:"corsOrigins"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Storage struct {
		Driver        string `yaml:"driver"`
		Endpoint      string `yaml:"endpoint"`
		AccessKey     string `yaml:"accessKey"`
		SecretKey     string `yaml:"secretKey"`
		BucketName    string `yaml:"bucketName"`
		Region        string `yaml:"region"`
		UseSSL        bool   `yaml:"useSSL"`
		PublicBaseURL string `yaml:"publicBaseURL"`
		KeyPrefix     string `yaml:"keyPrefix"`
	} `yaml:"storage"`

	Inference struct {
		BaseURL string        `yaml:"baseURL"`
		APIKey  string        `yaml:"apiKey"`
		Model   string        `yaml:"model"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"inference"`

	Auth struct {
		JWTSecret    string `yaml:"jwtSecret"`
		Issuer       string `yaml:"issuer"`
		StrictUpload bool   `yaml:"strictUpload"`
	} `yaml:"auth"`

	Analysis struct {
		AllowReanalysis bool          `yaml:"allowReanalysis"`
		MaxImageBytes   int           `yaml:"maxImageBytes"`
		FetchTimeout    time.Duration `yaml:"fetchTimeout"`
	} `yaml:"analysis"`

	Log struct {
		Level     string `yaml:"level"`
		SentryDSN string `yaml:"sentryDSN"`
	} `yaml:"log"`

	RateLimit struct {
		Enabled           bool `yaml:"enabled"`
		RequestsPerMinute int  `yaml:"requestsPerMinute"`
		Burst             int  `yaml:"burst"`
	} `yaml:"rateLimit"`
}

// Default returns a config with every optional value filled in.
func Default() *Config {
	var cfg Config
	cfg.Env = "development"

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 120 * time.Second
	cfg.Server.IdleTimeout = 120 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Server.MaxUploadBytes = 25 << 20
	cfg.Server.CORSOrigins = []string{"*"}

	cfg.Database.Driver = "sqlite"
	cfg.Database.Host = "localhost"
	cfg.Database.Name = "healthmate"
	cfg.Database.SSLMode = "disable"

	cfg.Storage.Driver = "minio"
	cfg.Storage.BucketName = "reports"
	cfg.Storage.Region = "us-east-1"
	cfg.Storage.KeyPrefix = "uploads"

	cfg.Inference.Timeout = 90 * time.Second

	cfg.Analysis.AllowReanalysis = true
	cfg.Analysis.FetchTimeout = 30 * time.Second

	cfg.Log.Level = "info"

	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 30
	cfg.RateLimit.Burst = 10
	return &cfg
}

// Load baca file config.yaml, lalu override dari environment (.env ikut dibaca).
// A missing file is fine; defaults and env are used.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			slog.Info("config file not found, using defaults and environment", "path", path)
		default:
			return nil, err
		}
	}

	cfg.applyEnv()
	if cfg.Storage.Driver == "minio" && cfg.Storage.Endpoint == "" {
		cfg.Storage.Endpoint = "localhost:9000"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and deploy-specific values from the environment.
func (c *Config) applyEnv() {
	c.Env = envString("APP_ENV", c.Env)
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		c.Server.Port = p
	}

	c.Database.Driver = envString("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = envString("DB_DSN", c.Database.DSN)
	c.Database.Password = envString("DB_PASSWORD", c.Database.Password)

	c.Storage.AccessKey = envString("STORAGE_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = envString("STORAGE_SECRET_KEY", c.Storage.SecretKey)

	c.Inference.APIKey = envString("INFERENCE_API_KEY", envString("GOOGLE_API_KEY", c.Inference.APIKey))

	c.Auth.JWTSecret = envString("JWT_SECRET", c.Auth.JWTSecret)
	c.Log.SentryDSN = envString("SENTRY_DSN", c.Log.SentryDSN)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be mysql, postgres or sqlite", c.Database.Driver))
	}
	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be minio or s3", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Storage.BucketName) == "" {
		errs = append(errs, errors.New("storage.bucketName is required"))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwtSecret (JWT_SECRET) is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Env != "development" && c.Env != "production" {
		errs = append(errs, fmt.Errorf("env %q must be development or production", c.Env))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	switch c.Database.Driver {
	case "mysql":
		return c.MySQLDSN()
	case "postgres":
		return c.PostgresDSN()
	default:
		return "./data/" + c.Database.Name + ".db"
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	port := c.Database.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres
func (c *Config) PostgresDSN() string {
	port := c.Database.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

// StoragePublicBaseURL is the origin used to build object URLs.
func (c *Config) StoragePublicBaseURL() string {
	if c.Storage.PublicBaseURL != "" {
		return strings.TrimRight(c.Storage.PublicBaseURL, "/")
	}
	if c.Storage.Endpoint == "" {
		return ""
	}
	scheme := "http"
	if c.Storage.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.Storage.Endpoint
}

// StorageEndpointURL returns the endpoint with a scheme, as the S3 SDK expects.
// Empty means the AWS default endpoint.
func (c *Config) StorageEndpointURL() string {
	ep := c.Storage.Endpoint
	if ep == "" || strings.Contains(ep, "://") {
		return ep
	}
	if c.Storage.UseSSL {
		return "https://" + ep
	}
	return "http://" + ep
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
