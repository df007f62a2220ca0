package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/raysh454/kansa/internal/blobstore"
	"github.com/raysh454/kansa/internal/provider"
	"github.com/raysh454/kansa/internal/reconcile"
	"github.com/raysh454/kansa/internal/store"
)

// Blob backends.
const (
	BlobFS   = "fs"
	BlobS3   = "s3"
	BlobNone = "none"
)

// Config holds runtime settings. DefaultConfig gives development defaults;
// LoadConfig overlays KANSA_* environment variables.
type Config struct {
	ListenAddr string `env:"KANSA_LISTEN_ADDR"`

	// StorageRoot is the base directory for the sqlite database and the
	// filesystem blob archive.
	StorageRoot string `env:"KANSA_STORAGE_ROOT"`

	StoreDriver string `env:"KANSA_STORE_DRIVER"`
	// StoreDSN defaults to <StorageRoot>/kansa.db for sqlite.
	StoreDSN string `env:"KANSA_STORE_DSN"`

	BlobBackend  string `env:"KANSA_BLOB_BACKEND"`
	S3Endpoint   string `env:"KANSA_S3_ENDPOINT"`
	S3AccessKey  string `env:"KANSA_S3_ACCESS_KEY"`
	S3SecretKey  string `env:"KANSA_S3_SECRET_KEY"`
	S3Bucket     string `env:"KANSA_S3_BUCKET"`
	S3Prefix     string `env:"KANSA_S3_PREFIX"`
	S3UseSSL     bool   `env:"KANSA_S3_USE_SSL"`
	S3MakeBucket bool   `env:"KANSA_S3_CREATE_BUCKET"`

	ProviderBackend    string        `env:"KANSA_PROVIDER_BACKEND"`
	ProviderBaseURL    string        `env:"KANSA_PROVIDER_BASE_URL"`
	ProviderTokenURL   string        `env:"KANSA_PROVIDER_TOKEN_URL"`
	ProviderScopes     []string      `env:"KANSA_PROVIDER_SCOPES" envSeparator:","`
	ProviderTimeout    time.Duration `env:"KANSA_PROVIDER_TIMEOUT"`
	ProviderRateLimit  float64       `env:"KANSA_PROVIDER_RATE_LIMIT"`
	ProviderBurst      int           `env:"KANSA_PROVIDER_BURST"`
	ProviderMaxRetries int           `env:"KANSA_PROVIDER_MAX_RETRIES"`

	Workers         int           `env:"KANSA_WORKERS"`
	QueueSize       int           `env:"KANSA_QUEUE_SIZE"`
	MaxParallel     int           `env:"KANSA_MAX_PARALLEL_DOMAINS"`
	FinalizeTimeout time.Duration `env:"KANSA_FINALIZE_TIMEOUT"`

	StaleRunAfter     time.Duration `env:"KANSA_STALE_RUN_AFTER"`
	RequeueAfter      time.Duration `env:"KANSA_REQUEUE_AFTER"`
	ReconcileInterval time.Duration `env:"KANSA_RECONCILE_INTERVAL"`
	ProgressRetention time.Duration `env:"KANSA_PROGRESS_RETENTION"`

	AllowedOrigins []string `env:"KANSA_ALLOWED_ORIGINS" envSeparator:","`
	OTLPEndpoint   string   `env:"KANSA_OTLP_ENDPOINT"`
	LogLevel       string   `env:"KANSA_LOG_LEVEL"`
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	p := provider.DefaultOptions()
	return &Config{
		ListenAddr:  ":8080",
		StorageRoot: "~/.config/kansa",
		StoreDriver: string(store.DialectSQLite),
		BlobBackend: BlobFS,
		S3Prefix:    "payloads",

		ProviderBackend:    p.Backend,
		ProviderBaseURL:    p.BaseURL,
		ProviderScopes:     p.Scopes,
		ProviderTimeout:    p.Timeout,
		ProviderRateLimit:  p.RateLimit,
		ProviderBurst:      p.Burst,
		ProviderMaxRetries: p.MaxRetries,

		Workers:         2,
		QueueSize:       64,
		MaxParallel:     1,
		FinalizeTimeout: 30 * time.Second,

		StaleRunAfter:     30 * time.Minute,
		RequeueAfter:      time.Minute,
		ReconcileInterval: time.Minute,
		ProgressRetention: time.Hour,

		LogLevel: "info",
	}
}

// LoadConfig returns DefaultConfig overlaid with the process environment.
func LoadConfig() (*Config, error) {
	return loadConfig(env.Options{})
}

func loadConfig(opts env.Options) (*Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and backends and non-positive sizes.
func (c *Config) Validate() error {
	var errs []error
	if _, err := store.ParseDialect(c.StoreDriver); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.BlobBackend) {
	case BlobFS, BlobNone, "":
	case BlobS3:
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 blob backend needs KANSA_S3_ENDPOINT and KANSA_S3_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.BlobBackend))
	}
	if !providerBackendKnown(c.ProviderBackend) {
		errs = append(errs, fmt.Errorf("unknown provider backend %q: available=%v", c.ProviderBackend, provider.ListBackends()))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue size must be positive"))
	}
	if c.MaxParallel <= 0 {
		errs = append(errs, errors.New("max parallel domains must be positive"))
	}
	if c.StaleRunAfter <= 0 {
		errs = append(errs, errors.New("stale run threshold must be positive"))
	}
	return errors.Join(errs...)
}

func providerBackendKnown(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return true
	}
	for _, b := range provider.ListBackends() {
		if b == name {
			return true
		}
	}
	return false
}

// ResolvedStorageRoot expands a leading ~ in StorageRoot.
func (c *Config) ResolvedStorageRoot() (string, error) {
	return expandPath(c.StorageRoot)
}

// DSN returns StoreDSN, defaulting to a sqlite file under the storage root.
func (c *Config) DSN() (string, error) {
	if c.StoreDSN != "" {
		return c.StoreDSN, nil
	}
	d, err := store.ParseDialect(c.StoreDriver)
	if err != nil {
		return "", err
	}
	if d != store.DialectSQLite {
		return "", errors.New("KANSA_STORE_DSN is required for postgres")
	}
	root, err := c.ResolvedStorageRoot()
	if err != nil {
		return "", err
	}
	return "file:" + filepath.Join(root, "kansa.db"), nil
}

// ProviderOptions maps the provider settings onto provider.Options.
func (c *Config) ProviderOptions() provider.Options {
	opts := provider.DefaultOptions()
	opts.Backend = c.ProviderBackend
	opts.BaseURL = c.ProviderBaseURL
	opts.TokenURL = c.ProviderTokenURL
	if len(c.ProviderScopes) > 0 {
		opts.Scopes = c.ProviderScopes
	}
	if c.ProviderTimeout > 0 {
		opts.Timeout = c.ProviderTimeout
	}
	if c.ProviderRateLimit > 0 {
		opts.RateLimit = c.ProviderRateLimit
	}
	if c.ProviderBurst > 0 {
		opts.Burst = c.ProviderBurst
	}
	if c.ProviderMaxRetries > 0 {
		opts.MaxRetries = c.ProviderMaxRetries
	}
	return opts
}

// S3Options maps the S3 settings onto blobstore.S3Options.
func (c *Config) S3Options() blobstore.S3Options {
	return blobstore.S3Options{
		Endpoint:     c.S3Endpoint,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		Bucket:       c.S3Bucket,
		Prefix:       c.S3Prefix,
		UseSSL:       c.S3UseSSL,
		CreateBucket: c.S3MakeBucket,
	}
}

// ReconcileOptions maps the reconcile settings.
func (c *Config) ReconcileOptions() reconcile.Options {
	return reconcile.Options{
		StaleAfter:   c.StaleRunAfter,
		RequeueAfter: c.RequeueAfter,
		Retention:    c.ProgressRetention,
		Interval:     c.ReconcileInterval,
	}
}

func expandPath(p string) (string, error) {
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
