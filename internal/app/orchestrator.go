package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/kansa/internal/dispatch"
	"github.com/raysh454/kansa/internal/drift"
	"github.com/raysh454/kansa/internal/engine"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/reconcile"
	"github.com/raysh454/kansa/internal/report"
	"github.com/raysh454/kansa/internal/store"
)

var (
	ErrUnknownKind    = errors.New("unknown run kind")
	ErrInvalidRequest = errors.New("invalid request")
	ErrTenantBusy     = errors.New("tenant has runs in progress")
)

// TenantRequest is the input for registering a tenant.
type TenantRequest struct {
	Name         string `json:"name"`
	DirectoryID  string `json:"directory_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Endpoint     string `json:"endpoint,omitempty"`
}

// CancelResult reports whether a cancel request reached an execution.
type CancelResult struct {
	RunID     string          `json:"run_id"`
	Cancelled bool            `json:"cancelled"`
	Status    model.RunStatus `json:"status"`
}

// Orchestrator is the application facade over the tenant store, the two
// engines, the dispatcher and the reconciler. The HTTP layer talks only to it.
type Orchestrator struct {
	store      store.Store
	engines    map[model.RunKind]*engine.Engine
	queue      *dispatch.Queue
	reconciler *reconcile.Reconciler
	tracker    *progress.Tracker
	logger     logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator registers each engine's Execute as the queue handler for
// its kind.
func NewOrchestrator(st store.Store, tracker *progress.Tracker, queue *dispatch.Queue, rec *reconcile.Reconciler, logger logging.Logger, engines ...*engine.Engine) *Orchestrator {
	if logger == nil {
		logger = logging.Nop{}
	}
	o := &Orchestrator{
		store:      st,
		engines:    make(map[model.RunKind]*engine.Engine, len(engines)),
		queue:      queue,
		reconciler: rec,
		tracker:    tracker,
		logger:     logger,
	}
	for _, e := range engines {
		o.engines[e.Kind()] = e
		queue.Handle(e.Kind(), e.Execute)
	}
	return o
}

// InFlight reports whether any engine of this process executes runID.
func (o *Orchestrator) InFlight(runID string) bool {
	for _, e := range o.engines {
		if e.InFlight(runID) {
			return true
		}
	}
	return false
}

// Start launches the workers, runs the startup reconcile pass and keeps
// reconciling in the background until Shutdown.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return nil
	}
	o.queue.Start()
	if o.reconciler == nil {
		return nil
	}
	if _, err := o.reconciler.Startup(ctx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go func() {
		defer close(o.done)
		o.reconciler.Run(loopCtx)
	}()
	return nil
}

// Shutdown stops reconciling, stops intake and cancels in-flight runs.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return o.queue.Shutdown(ctx)
}

// Engine returns the engine serving kind.
func (o *Orchestrator) Engine(kind model.RunKind) (*engine.Engine, error) {
	e, ok := o.engines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return e, nil
}

// ─── Tenants ───────────────────────────────────────────────────────────

func (o *Orchestrator) CreateTenant(ctx context.Context, req TenantRequest) (*model.Tenant, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.DirectoryID == "" || req.ClientID == "" || req.ClientSecret == "" {
		return nil, fmt.Errorf("%w: name, directory_id, client_id and client_secret are required", ErrInvalidRequest)
	}
	t := &model.Tenant{
		ID:           uuid.New().String(),
		Name:         req.Name,
		DirectoryID:  req.DirectoryID,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Endpoint:     req.Endpoint,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.store.CreateTenant(ctx, t); err != nil {
		return nil, err
	}
	o.logger.Info("tenant created", logging.Field{Key: "tenant_id", Value: t.ID})
	return t, nil
}

func (o *Orchestrator) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	return o.store.GetTenant(ctx, id)
}

func (o *Orchestrator) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	return o.store.ListTenants(ctx)
}

// DeleteTenant removes a tenant and all its runs. Tenants with runs still
// Pending or Running are refused.
func (o *Orchestrator) DeleteTenant(ctx context.Context, id string) error {
	if _, err := o.store.GetTenant(ctx, id); err != nil {
		return err
	}
	open, err := o.store.ListRuns(ctx, store.RunFilter{
		TenantID: id,
		Statuses: []model.RunStatus{model.StatusPending, model.StatusRunning},
		Limit:    1,
	})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return fmt.Errorf("%w: %s", ErrTenantBusy, open[0].ID)
	}
	if err := o.store.DeleteTenant(ctx, id); err != nil {
		return err
	}
	o.logger.Info("tenant deleted", logging.Field{Key: "tenant_id", Value: id})
	return nil
}

// ─── Runs ──────────────────────────────────────────────────────────────

// StartRun persists a Pending run and hands it to the dispatcher. When the
// queue refuses it the run is removed again so nothing executes later.
func (o *Orchestrator) StartRun(ctx context.Context, kind model.RunKind, tenantID string, domains []string, initiatedBy string) (*engine.RunDetail, error) {
	e, err := o.Engine(kind)
	if err != nil {
		return nil, err
	}
	parsed := make([]model.Domain, 0, len(domains))
	for _, d := range domains {
		pd, err := model.ParseDomain(kind, d)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrUnknownDomain, err)
		}
		parsed = append(parsed, pd)
	}

	runID, err := e.Start(ctx, engine.StartRequest{TenantID: tenantID, Domains: parsed, InitiatedBy: initiatedBy})
	if err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(dispatch.Job{RunID: runID, Kind: kind}); err != nil {
		o.logger.Warn("dispatch refused run", logging.Field{Key: "run_id", Value: runID}, logging.Field{Key: "error", Value: err.Error()})
		if derr := o.store.DeleteRun(context.WithoutCancel(ctx), runID); derr != nil {
			o.logger.Error("failed to remove undispatched run", logging.Field{Key: "run_id", Value: runID}, logging.Field{Key: "error", Value: derr.Error()})
		}
		o.tracker.Forget(runID)
		return nil, err
	}
	return e.GetRun(ctx, runID)
}

func (o *Orchestrator) GetRun(ctx context.Context, kind model.RunKind, runID string) (*engine.RunDetail, error) {
	e, err := o.Engine(kind)
	if err != nil {
		return nil, err
	}
	return e.GetRun(ctx, runID)
}

// ListRuns lists a tenant's runs, optionally of one kind.
func (o *Orchestrator) ListRuns(ctx context.Context, tenantID string, kind model.RunKind, limit int) ([]model.Run, error) {
	if _, err := o.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return o.store.ListRuns(ctx, store.RunFilter{TenantID: tenantID, Kind: kind, Limit: limit})
}

// GetProgress returns progress for a run of kind, rebuilding it from the
// store when it is no longer tracked.
func (o *Orchestrator) GetProgress(ctx context.Context, kind model.RunKind, runID string) (model.Progress, error) {
	e, err := o.Engine(kind)
	if err != nil {
		return model.Progress{}, err
	}
	if _, err := e.GetRun(ctx, runID); err != nil {
		return model.Progress{}, err
	}
	return o.progress(ctx, runID)
}

func (o *Orchestrator) progress(ctx context.Context, runID string) (model.Progress, error) {
	if p, ok := o.tracker.Get(runID); ok {
		return p, nil
	}
	return o.tracker.Rehydrate(ctx, o.store, runID)
}

// CancelRun signals a run's execution. Cancelled is false when nothing in
// this process is executing it.
func (o *Orchestrator) CancelRun(ctx context.Context, kind model.RunKind, runID string) (*CancelResult, error) {
	e, err := o.Engine(kind)
	if err != nil {
		return nil, err
	}
	d, err := e.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &CancelResult{RunID: runID, Cancelled: e.Cancel(runID), Status: d.Run.Status}, nil
}

func (o *Orchestrator) GetFindings(ctx context.Context, runID string, f store.FindingFilter) ([]model.Finding, error) {
	e, err := o.Engine(model.KindAssessment)
	if err != nil {
		return nil, err
	}
	return e.GetFindings(ctx, runID, f)
}

func (o *Orchestrator) GetDomainDetail(ctx context.Context, kind model.RunKind, runID, domain string) (*engine.DomainDetail, error) {
	e, err := o.Engine(kind)
	if err != nil {
		return nil, err
	}
	d, err := model.ParseDomain(kind, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrUnknownDomain, err)
	}
	detail, err := e.GetDomainDetail(ctx, runID, d)
	if err != nil {
		return nil, err
	}
	if err := e.ResolvePayloads(ctx, detail.Items); err != nil && !errors.Is(err, engine.ErrPayloadsDisabled) {
		o.logger.Warn("payload resolve failed", logging.Field{Key: "run_id", Value: runID}, logging.Field{Key: "error", Value: err.Error()})
	}
	return detail, nil
}

func (o *Orchestrator) GetReport(ctx context.Context, kind model.RunKind, runID string) (*report.Report, error) {
	e, err := o.Engine(kind)
	if err != nil {
		return nil, err
	}
	return e.GetReport(ctx, runID)
}

// Drift compares baseID to headID. An empty baseID selects the newest
// terminal inventory run of the same tenant that started before head.
func (o *Orchestrator) Drift(ctx context.Context, headID, baseID, domain string) (*drift.Report, error) {
	e, err := o.Engine(model.KindInventory)
	if err != nil {
		return nil, err
	}
	var d model.Domain
	if domain != "" {
		if d, err = model.ParseDomain(model.KindInventory, domain); err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrUnknownDomain, err)
		}
	}
	if baseID == "" {
		baseID, err = o.previousInventory(ctx, e, headID)
		if err != nil {
			return nil, err
		}
	}
	return e.Drift(ctx, baseID, headID, d)
}

func (o *Orchestrator) previousInventory(ctx context.Context, e *engine.Engine, headID string) (string, error) {
	head, err := e.GetRun(ctx, headID)
	if err != nil {
		return "", err
	}
	runs, err := e.ListRuns(ctx, head.Run.TenantID, 0)
	if err != nil {
		return "", err
	}
	for _, r := range runs {
		if r.ID != headID && r.Status.IsTerminal() && r.StartedAt.Before(head.Run.StartedAt) {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("%w: no earlier finished inventory run to compare with", ErrInvalidRequest)
}

// Watch subscribes to a run of any kind and returns its current progress.
// The channel closes when the run turns terminal; when the snapshot is
// already terminal no further events follow and callers should stop.
func (o *Orchestrator) Watch(ctx context.Context, runID string) (model.Progress, <-chan progress.Event, func(), error) {
	if _, err := o.store.GetRun(ctx, runID); err != nil {
		return model.Progress{}, nil, nil, err
	}
	events, unsub := o.tracker.Broker().Subscribe(runID)
	p, err := o.progress(ctx, runID)
	if err != nil {
		unsub()
		return model.Progress{}, nil, nil, err
	}
	return p, events, unsub, nil
}
