package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raysh454/kansa/internal/blobstore"
	"github.com/raysh454/kansa/internal/dispatch"
	"github.com/raysh454/kansa/internal/engine"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/modules/assessment"
	"github.com/raysh454/kansa/internal/modules/inventory"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/provider"
	"github.com/raysh454/kansa/internal/reconcile"
	"github.com/raysh454/kansa/internal/store"
	"github.com/raysh454/kansa/internal/telemetry"
)

// Application is the runtime state container: config, logger, and the
// services shared across packages. Pass it to the entry points rather than
// using package-level variables.
type Application struct {
	Config  *Config
	Logger  logging.Logger
	Store   *store.SQL
	Blobs   blobstore.Store
	Metrics *telemetry.Metrics
	Orch    *Orchestrator

	shutdownTracing func(context.Context) error
}

// Deps lets callers replace parts of the wiring. Zero fields are built from
// Config.
type Deps struct {
	Factory provider.Factory
	Store   *store.SQL
}

// NewApplication opens the store and blob archive, builds the engines,
// dispatcher and reconciler, and ties them into an Orchestrator. Nothing
// runs until Start.
func NewApplication(ctx context.Context, cfg *Config, logger logging.Logger, deps Deps) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.NewLogger("kansa", os.Stdout, logging.ParseLevel(cfg.LogLevel))
	}

	root, err := cfg.ResolvedStorageRoot()
	if err != nil {
		return nil, fmt.Errorf("expanding storage root path: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		logger.Warn("creating storage root directory", logging.Field{Key: "path", Value: root}, logging.Field{Key: "error", Value: err.Error()})
	}

	a := &Application{Config: cfg, Logger: logger, Metrics: telemetry.NewMetrics()}

	a.shutdownTracing, err = telemetry.Setup(ctx, "kansa", cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	a.Store = deps.Store
	if a.Store == nil {
		dsn, err := cfg.DSN()
		if err != nil {
			return nil, err
		}
		if a.Store, err = store.Open(ctx, cfg.StoreDriver, dsn); err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	if a.Blobs, err = openBlobs(ctx, cfg, root); err != nil {
		_ = a.Store.Close()
		return nil, err
	}

	factory := deps.Factory
	if factory == nil {
		if factory, err = provider.NewFactory(cfg.ProviderOptions(), logger.With(logging.Field{Key: "component", Value: "provider"})); err != nil {
			_ = a.Store.Close()
			return nil, err
		}
	}

	tracker := progress.NewTracker(progress.NewBroker(0))
	opts := engine.Options{
		MaxParallel:     cfg.MaxParallel,
		FinalizeTimeout: cfg.FinalizeTimeout,
		Metrics:         a.Metrics,
	}
	engineLog := logger.With(logging.Field{Key: "component", Value: "engine"})
	assess := engine.NewAssessmentEngine(a.Store, factory, assessment.NewRegistry(), tracker, engineLog, opts)
	invOpts := opts
	invOpts.Blobs = a.Blobs
	inv := engine.NewInventoryEngine(a.Store, factory, inventory.NewRegistry(), tracker, engineLog, invOpts)

	queue := dispatch.New(cfg.Workers, cfg.QueueSize, logger)
	var orch *Orchestrator
	rec := reconcile.New(a.Store, tracker, queue, func(id string) bool { return orch.InFlight(id) }, logger, cfg.ReconcileOptions())
	orch = NewOrchestrator(a.Store, tracker, queue, rec, logger, assess, inv)
	a.Orch = orch
	return a, nil
}

func openBlobs(ctx context.Context, cfg *Config, root string) (blobstore.Store, error) {
	switch strings.ToLower(cfg.BlobBackend) {
	case BlobNone:
		return nil, nil
	case BlobS3:
		s, err := blobstore.NewS3Store(ctx, cfg.S3Options())
		if err != nil {
			return nil, fmt.Errorf("opening s3 blob store: %w", err)
		}
		return s, nil
	default:
		s, err := blobstore.NewFSStore(filepath.Join(root, "blobs"))
		if err != nil {
			return nil, fmt.Errorf("opening blob store: %w", err)
		}
		return s, nil
	}
}

// Start begins background work: dispatch workers and reconciliation.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application starting",
		logging.Field{Key: "store", Value: a.Config.StoreDriver},
		logging.Field{Key: "workers", Value: a.Config.Workers})
	return a.Orch.Start(ctx)
}

// Shutdown stops the orchestrator within a bounded time, then releases the
// store and tracing exporter.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var errs []error
	if a.Orch != nil {
		if err := a.Orch.Shutdown(shutdownCtx); err != nil {
			a.Logger.Info("orchestrator shutdown returned error", logging.Field{Key: "error", Value: err.Error()})
			errs = append(errs, err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
