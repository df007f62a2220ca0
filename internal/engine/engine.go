// Package engine schedules domain modules for assessment and inventory runs,
// tracks their progress and cancellation, and drives every run to exactly
// one terminal status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/raysh454/kansa/internal/blobstore"
	"github.com/raysh454/kansa/internal/drift"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/provider"
	"github.com/raysh454/kansa/internal/report"
	"github.com/raysh454/kansa/internal/scoring"
	"github.com/raysh454/kansa/internal/store"
	"github.com/raysh454/kansa/internal/telemetry"
)

var (
	ErrInvalidTenant    = errors.New("invalid tenant")
	ErrNoDomains        = errors.New("no domains to run")
	ErrUnknownDomain    = errors.New("unknown domain")
	ErrNotTerminal      = errors.New("run is not finished")
	ErrDomainNotInRun   = errors.New("domain not part of run")
	ErrModuleNotFound   = errors.New("Module not found")
	ErrPayloadsDisabled = errors.New("payload archive not configured")
)

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	// MaxParallel bounds concurrently collected domain units of one run.
	// 1 runs units strictly one after another.
	MaxParallel int
	// FinalizeTimeout bounds the final store writes, which run detached
	// from the (possibly cancelled) run context.
	FinalizeTimeout time.Duration
	Scorer          *scoring.Scorer
	Metrics         *telemetry.Metrics
	// Blobs archives raw inventory payloads; items then keep only the blob id.
	Blobs  blobstore.Store
	Tracer trace.Tracer
	Clock  func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 1
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = 30 * time.Second
	}
	if o.Scorer == nil {
		o.Scorer = scoring.Default()
	}
	if o.Tracer == nil {
		o.Tracer = telemetry.Tracer()
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
}

// Engine runs one kind of pipeline. It holds no per-run state except the
// cancel functions of in-flight executions.
type Engine struct {
	kind     model.RunKind
	store    store.Store
	factory  provider.Factory
	registry *modules.Registry
	tracker  *progress.Tracker
	logger   logging.Logger
	opts     Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Engine for kind. A nil tracker gets a private one.
func New(kind model.RunKind, st store.Store, factory provider.Factory, reg *modules.Registry, tracker *progress.Tracker, logger logging.Logger, opts Options) *Engine {
	opts.applyDefaults()
	if tracker == nil {
		tracker = progress.NewTracker(progress.NewBroker(0))
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if reg == nil {
		reg = modules.NewRegistry()
	}
	return &Engine{
		kind:     kind,
		store:    st,
		factory:  factory,
		registry: reg,
		tracker:  tracker,
		logger:   logger.With(logging.Field{Key: "kind", Value: string(kind)}),
		opts:     opts,
		cancels:  make(map[string]context.CancelFunc),
	}
}

func NewAssessmentEngine(st store.Store, factory provider.Factory, reg *modules.Registry, tracker *progress.Tracker, logger logging.Logger, opts Options) *Engine {
	return New(model.KindAssessment, st, factory, reg, tracker, logger, opts)
}

func NewInventoryEngine(st store.Store, factory provider.Factory, reg *modules.Registry, tracker *progress.Tracker, logger logging.Logger, opts Options) *Engine {
	return New(model.KindInventory, st, factory, reg, tracker, logger, opts)
}

// Kind returns the pipeline this engine runs.
func (e *Engine) Kind() model.RunKind { return e.kind }

// StartRequest describes a run to create.
type StartRequest struct {
	TenantID    string
	Domains     []model.Domain
	InitiatedBy string
}

// Start persists a Pending run with one Pending unit per domain and returns
// its id. It does no provider I/O; callers hand the id to a dispatcher.
func (e *Engine) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.TenantID == "" {
		return "", fmt.Errorf("%w: empty tenant id", ErrInvalidTenant)
	}
	if _, err := e.store.GetTenant(ctx, req.TenantID); err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			return "", fmt.Errorf("%w: %w", ErrInvalidTenant, err)
		}
		return "", err
	}

	domains, err := e.resolveDomains(req.Domains)
	if err != nil {
		return "", err
	}

	now := e.opts.Clock()
	run := &model.Run{
		ID:          uuid.New().String(),
		TenantID:    req.TenantID,
		Kind:        e.kind,
		Status:      model.StatusPending,
		StartedAt:   now,
		UpdatedAt:   now,
		InitiatedBy: req.InitiatedBy,
	}
	units := make([]model.DomainUnit, len(domains))
	for i, d := range domains {
		units[i] = model.DomainUnit{
			ID:       uuid.New().String(),
			RunID:    run.ID,
			Domain:   d,
			Seq:      i,
			Status:   model.StatusPending,
			Warnings: []string{},
		}
	}
	if err := e.store.CreateRun(ctx, run, units); err != nil {
		return "", err
	}
	e.tracker.Init(run.ID, e.kind, domains, now)

	e.logger.Info("run created",
		logging.Field{Key: "run_id", Value: run.ID},
		logging.Field{Key: "tenant_id", Value: run.TenantID},
		logging.Field{Key: "domains", Value: len(domains)})
	return run.ID, nil
}

// resolveDomains defaults to every domain of the kind, drops duplicates and
// sorts by declaration order.
func (e *Engine) resolveDomains(in []model.Domain) ([]model.Domain, error) {
	if len(in) == 0 {
		all := model.DomainsFor(e.kind)
		if len(all) == 0 {
			return nil, ErrNoDomains
		}
		return all, nil
	}
	seen := make(map[model.Domain]bool, len(in))
	out := make([]model.Domain, 0, len(in))
	for _, d := range in {
		if model.DomainOrder(e.kind, d) < 0 {
			return nil, fmt.Errorf("%w: %q is not a %s domain", ErrUnknownDomain, d, e.kind)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return model.DomainOrder(e.kind, out[i]) < model.DomainOrder(e.kind, out[j])
	})
	return out, nil
}

// Cancel signals the in-flight execution of runID. It reports false when
// nothing is executing, which is not an error.
func (e *Engine) Cancel(runID string) bool {
	cancel := e.getCancel(runID)
	if cancel == nil {
		return false
	}
	e.logger.Info("cancellation requested", logging.Field{Key: "run_id", Value: runID})
	cancel()
	return true
}

// InFlight reports whether this process is executing runID.
func (e *Engine) InFlight(runID string) bool {
	return e.getCancel(runID) != nil
}

func (e *Engine) setCancel(runID string, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cancels[runID]; ok {
		return false
	}
	e.cancels[runID] = cancel
	return true
}

func (e *Engine) getCancel(runID string) context.CancelFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels[runID]
}

func (e *Engine) deleteCancel(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, runID)
}

// ─── Reads ─────────────────────────────────────────────────────────────

// GetProgress returns the tracked projection, or a Pending projection when
// nothing is known about runID yet.
func (e *Engine) GetProgress(runID string) model.Progress {
	if p, ok := e.tracker.Get(runID); ok {
		return p
	}
	return model.PendingProgress(runID)
}

// Subscribe streams progress events of runID until it turns terminal.
func (e *Engine) Subscribe(runID string) (<-chan progress.Event, func()) {
	return e.tracker.Broker().Subscribe(runID)
}

// RunDetail is a run with its units in execution order.
type RunDetail struct {
	Run   model.Run          `json:"run"`
	Units []model.DomainUnit `json:"units"`
}

// GetRun loads a run of this engine's kind.
func (e *Engine) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := e.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	units, err := e.store.ListUnits(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: *run, Units: units}, nil
}

// ListRuns lists runs of this engine's kind for tenantID (all tenants when
// empty), newest first.
func (e *Engine) ListRuns(ctx context.Context, tenantID string, limit int) ([]model.Run, error) {
	return e.store.ListRuns(ctx, store.RunFilter{TenantID: tenantID, Kind: e.kind, Limit: limit})
}

func (e *Engine) loadRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Kind != e.kind {
		return nil, store.ErrRunNotFound
	}
	return run, nil
}

// GetFindings returns the run's findings, most severe first.
func (e *Engine) GetFindings(ctx context.Context, runID string, f store.FindingFilter) ([]model.Finding, error) {
	if _, err := e.loadRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.store.ListFindings(ctx, runID, f)
}

// DomainDetail is one unit with what it produced. Score is set for scored
// assessment units.
type DomainDetail struct {
	Unit     model.DomainUnit      `json:"unit"`
	Score    *model.DomainScore    `json:"score,omitempty"`
	Findings []model.Finding       `json:"findings,omitempty"`
	Items    []model.InventoryItem `json:"items,omitempty"`
}

func (e *Engine) GetDomainDetail(ctx context.Context, runID string, domain model.Domain) (*DomainDetail, error) {
	if _, err := e.loadRun(ctx, runID); err != nil {
		return nil, err
	}
	units, err := e.store.ListUnits(ctx, runID)
	if err != nil {
		return nil, err
	}
	var unit *model.DomainUnit
	for i := range units {
		if units[i].Domain == domain {
			unit = &units[i]
			break
		}
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotInRun, domain)
	}

	detail := &DomainDetail{Unit: *unit}
	switch e.kind {
	case model.KindAssessment:
		findings, err := e.store.ListFindings(ctx, runID, store.FindingFilter{Domain: domain})
		if err != nil {
			return nil, err
		}
		detail.Findings = findings
		if report.Scored(unit.Status) {
			s := e.opts.Scorer.DomainScore(domain, findings)
			detail.Score = &s
		}
	case model.KindInventory:
		items, err := e.store.ListItems(ctx, runID, domain)
		if err != nil {
			return nil, err
		}
		detail.Items = items
	}
	return detail, nil
}

// GetReport builds the finalized projection of a terminal run.
func (e *Engine) GetReport(ctx context.Context, runID string) (*report.Report, error) {
	run, err := e.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotTerminal, runID, run.Status)
	}
	units, err := e.store.ListUnits(ctx, runID)
	if err != nil {
		return nil, err
	}
	now := e.opts.Clock()
	if e.kind == model.KindInventory {
		counts, err := e.store.CountItems(ctx, runID)
		if err != nil {
			return nil, err
		}
		return report.BuildInventory(*run, units, counts, now), nil
	}
	findings, err := e.store.ListFindings(ctx, runID, store.FindingFilter{})
	if err != nil {
		return nil, err
	}
	return report.BuildAssessment(*run, units, findings, e.opts.Scorer, now), nil
}

// Drift compares the items of two terminal inventory runs, optionally
// limited to one domain. Archived payloads are loaded from the blob store.
func (e *Engine) Drift(ctx context.Context, baseID, headID string, domain model.Domain) (*drift.Report, error) {
	load := func(id string) ([]model.InventoryItem, error) {
		run, err := e.loadRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if !run.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, run.Status)
		}
		items, err := e.store.ListItems(ctx, id, domain)
		if err != nil {
			return nil, err
		}
		return items, e.ResolvePayloads(ctx, items)
	}
	base, err := load(baseID)
	if err != nil {
		return nil, err
	}
	head, err := load(headID)
	if err != nil {
		return nil, err
	}
	r := drift.Compare(base, head)
	r.BaseRunID, r.HeadRunID = baseID, headID
	return r, nil
}

// ResolvePayloads fills Payload from the blob store for archived items.
func (e *Engine) ResolvePayloads(ctx context.Context, items []model.InventoryItem) error {
	for i := range items {
		if len(items[i].Payload) > 0 || items[i].PayloadRef == "" {
			continue
		}
		if e.opts.Blobs == nil {
			return ErrPayloadsDisabled
		}
		data, err := e.opts.Blobs.Get(ctx, items[i].PayloadRef)
		if err != nil {
			return fmt.Errorf("load payload %s: %w", items[i].PayloadRef, err)
		}
		items[i].Payload = data
	}
	return nil
}
