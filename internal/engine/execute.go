package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/provider"
	"github.com/raysh454/kansa/internal/report"
	"github.com/raysh454/kansa/internal/store"
)

// execution is the state of one Execute call.
type execution struct {
	run    *model.Run
	units  []model.DomainUnit // pending when claimed, in execution order
	total  int
	client provider.Client
	logger logging.Logger
	parent context.Context // ends on process shutdown, never on Cancel

	mu       sync.Mutex
	outcomes map[string]model.RunStatus // unit id -> terminal status
	findings []model.Finding
	items    int
	cut      int // units stopped by shutdown
}

func (x *execution) record(unitID string, status model.RunStatus, findings []model.Finding, items int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.outcomes[unitID] = status
	x.findings = append(x.findings, findings...)
	x.items += items
}

// interrupted reports whether the run lost its parent context, which the
// dispatcher cancels on shutdown.
func (x *execution) interrupted() bool {
	return x.parent != nil && x.parent.Err() != nil
}

func (x *execution) wasCut() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cut > 0
}

// shutdownMessage is the error recorded on runs and units stopped by
// process shutdown. Cancelled stays reserved for Cancel.
const shutdownMessage = "interrupted by shutdown"

// Execute performs a run created by Start. It is meant for a background
// worker and needs nothing from a request context. A run that is no longer
// Pending, or is already executing in this process, makes Execute a no-op.
//
// Failures inside the run are recorded on the run and its units; the
// returned error only reports that the run could not be loaded or claimed.
func (e *Engine) Execute(ctx context.Context, runID string) error {
	run, err := e.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	log := e.logger.With(logging.Field{Key: "run_id", Value: runID})
	if run.Status != model.StatusPending {
		log.Info("run not pending, skipping duplicate dispatch", logging.Field{Key: "status", Value: string(run.Status)})
		return nil
	}
	units, err := e.store.ListUnits(ctx, runID)
	if err != nil {
		return err
	}
	pending := units[:0:0]
	for _, u := range units {
		if u.Status == model.StatusPending {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		log.Info("no pending domain units, skipping duplicate dispatch")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !e.setCancel(runID, cancel) {
		log.Info("run already executing, skipping duplicate dispatch")
		return nil
	}
	defer e.deleteCancel(runID)

	now := e.opts.Clock()
	claimed, err := e.store.ClaimRun(ctx, runID, now)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("run claimed elsewhere, skipping duplicate dispatch")
		return nil
	}
	run.Status = model.StatusRunning
	run.UpdatedAt = now

	x := &execution{
		run:      run,
		units:    pending,
		total:    len(units),
		logger:   log,
		parent:   ctx,
		outcomes: make(map[string]model.RunStatus, len(units)),
	}

	spanCtx, span := e.opts.Tracer.Start(runCtx, "engine.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.kind", string(e.kind)),
			attribute.String("tenant.id", run.TenantID),
			attribute.Int("run.domains", len(pending)),
		))
	defer span.End()

	e.opts.Metrics.RunStarted(string(e.kind))
	defer e.opts.Metrics.RunStopped(string(e.kind))

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic in run",
				logging.Field{Key: "panic", Value: fmt.Sprint(r)},
				logging.Field{Key: "stack", Value: string(debug.Stack())})
			span.SetStatus(codes.Error, "panic")
			e.finishFailed(x, fmt.Sprintf("internal error: %v", r))
		}
	}()

	log.Info("run claimed", logging.Field{Key: "domains", Value: len(pending)})
	e.progressRunning(x)

	client, err := e.createClient(spanCtx, run.TenantID)
	if err != nil {
		if x.interrupted() {
			e.finishInterrupted(x)
			return nil
		}
		if runCtx.Err() != nil {
			e.finishCancelled(x)
			return nil
		}
		log.Error("client creation failed", logging.Field{Key: "error", Value: err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, "client creation failed")
		e.finishFailed(x, err.Error())
		return nil
	}
	x.client = client
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("client close failed", logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	g := new(errgroup.Group)
	g.SetLimit(e.opts.MaxParallel)
	for i := range pending {
		if spanCtx.Err() != nil {
			break
		}
		u := pending[i]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &panicError{value: r}
				}
			}()
			e.runUnit(spanCtx, x, u)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// re-raised so the run-level recovery above handles it
		panic(err)
	}

	if x.interrupted() && (x.open() || x.wasCut()) {
		e.finishInterrupted(x)
		span.SetStatus(codes.Error, shutdownMessage)
		return nil
	}
	if runCtx.Err() != nil && x.open() {
		e.finishCancelled(x)
		span.SetStatus(codes.Error, "cancelled")
		return nil
	}
	e.finishNormal(x)
	span.SetAttributes(attribute.String("run.status", string(x.run.Status)))
	return nil
}

// panicError carries a panic out of a unit goroutine.
type panicError struct {
	value any
}

func (p *panicError) Error() string { return fmt.Sprint(p.value) }

// open reports whether some unit has not reached a collected status
// (left Pending or Running, or Cancelled).
func (x *execution) open() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, u := range x.units {
		st, ok := x.outcomes[u.ID]
		if !ok || st == model.StatusCancelled {
			return true
		}
	}
	return false
}

func (e *Engine) createClient(ctx context.Context, tenantID string) (provider.Client, error) {
	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if e.factory == nil {
		return nil, errors.New("no provider factory configured")
	}
	client, err := e.factory.CreateClient(ctx, provider.Credentials{
		DirectoryID:  tenant.DirectoryID,
		ClientID:     tenant.ClientID,
		ClientSecret: tenant.ClientSecret,
		Endpoint:     tenant.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}
	return client, nil
}

// finalCtx is used for writes that must land even after cancellation.
func (e *Engine) finalCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.FinalizeTimeout)
}

// ─── Domain units ──────────────────────────────────────────────────────

func (e *Engine) runUnit(ctx context.Context, x *execution, u model.DomainUnit) {
	if ctx.Err() != nil {
		return
	}
	log := x.logger.With(logging.Field{Key: "domain", Value: string(u.Domain)})

	ctx, span := e.opts.Tracer.Start(ctx, "engine.domain",
		trace.WithAttributes(attribute.String("domain", string(u.Domain))))
	defer span.End()

	started := e.opts.Clock()
	u.Status = model.StatusRunning
	u.StartedAt = &started
	e.progressUnitStarted(x, u.Domain)
	if err := e.store.UpdateUnit(ctx, &u); err != nil {
		log.Warn("failed to persist running unit", logging.Field{Key: "error", Value: err.Error()})
	}
	log.Info("domain started")

	var res modules.Result
	mod, ok := e.registry.Lookup(u.Domain)
	if !ok {
		res = modules.Failed(ErrModuleNotFound.Error(), 0)
	} else {
		res = e.collect(ctx, mod, x, log)
	}
	cancelled := ctx.Err() != nil
	status := unitStatus(res, cancelled)
	if status == model.StatusCancelled && x.interrupted() {
		status = model.StatusFailed
		res.Error = shutdownMessage
		res.ItemCount = 0
		res.Findings, res.Items = nil, nil
		x.mu.Lock()
		x.cut++
		x.mu.Unlock()
	}

	completed := e.opts.Clock()
	u.Status = status
	u.Duration = res.Duration
	if u.Duration <= 0 {
		u.Duration = completed.Sub(started)
	}
	u.ErrorMessage = res.Error
	u.Warnings = append([]string{}, res.Warnings...)
	u.CompletedAt = &completed

	fctx, cancel := e.finalCtx(ctx)
	defer cancel()

	var findings []model.Finding
	var items []model.InventoryItem
	if status == model.StatusCancelled {
		u.ItemCount = 0
	} else {
		u.ItemCount = res.ItemCount
		findings = e.stampFindings(x.run.ID, u, res.Findings, completed)
		items = e.stampItems(fctx, x.run.ID, &u, res.Items, completed, log)
	}

	if err := e.store.CompleteUnit(fctx, &u, findings, items); err != nil {
		log.Error("failed to persist domain result", logging.Field{Key: "error", Value: err.Error()})
		span.RecordError(err)
		findings, items = nil, nil
		if status != model.StatusCancelled {
			// an unwritten result must not count as collected
			status = model.StatusFailed
			u.Status = status
			u.ItemCount = 0
			u.ErrorMessage = fmt.Sprintf("persist result: %v", err)
			if err := e.store.UpdateUnit(fctx, &u); err != nil {
				log.Error("failed to mark unit failed", logging.Field{Key: "error", Value: err.Error()})
			}
		}
	}
	x.record(u.ID, status, findings, len(items))
	e.progressUnitFinished(x, u)

	e.opts.Metrics.DomainFinished(string(e.kind), string(u.Domain), string(status), u.Duration)
	span.SetAttributes(attribute.String("domain.status", string(status)), attribute.Int("domain.items", u.ItemCount))
	if status == model.StatusFailed {
		span.SetStatus(codes.Error, u.ErrorMessage)
	}
	log.Info("domain finished",
		logging.Field{Key: "status", Value: string(status)},
		logging.Field{Key: "item_count", Value: u.ItemCount},
		logging.Field{Key: "duration_ms", Value: u.Duration.Milliseconds()})
}

// collect invokes the module and converts a panic into a failed Result.
func (e *Engine) collect(ctx context.Context, mod modules.Module, x *execution, log logging.Logger) (res modules.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered module panic",
				logging.Field{Key: "panic", Value: fmt.Sprint(r)},
				logging.Field{Key: "stack", Value: string(debug.Stack())})
			res = modules.Failed(fmt.Sprintf("module panic: %v", r), time.Since(start))
		}
	}()
	return mod.Collect(ctx, x.client, x.run.TenantID, x.run.ID)
}

func (e *Engine) stampFindings(runID string, u model.DomainUnit, in []model.Finding, at time.Time) []model.Finding {
	out := make([]model.Finding, len(in))
	for i, f := range in {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.RunID = runID
		f.UnitID = u.ID
		f.Domain = u.Domain
		if f.CreatedAt.IsZero() {
			f.CreatedAt = at
		}
		if f.AffectedResources == nil {
			f.AffectedResources = []string{}
		}
		out[i] = f
	}
	return out
}

// stampItems ties items to the unit and, with a blob store configured,
// archives each payload and keeps only its id. An archive failure leaves the
// payload inline and adds a warning to the unit.
func (e *Engine) stampItems(ctx context.Context, runID string, u *model.DomainUnit, in []model.InventoryItem, at time.Time, log logging.Logger) []model.InventoryItem {
	out := make([]model.InventoryItem, len(in))
	archiveFailed := 0
	for i, it := range in {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		it.RunID = runID
		it.UnitID = u.ID
		it.Domain = u.Domain
		if it.CreatedAt.IsZero() {
			it.CreatedAt = at
		}
		if e.opts.Blobs != nil && len(it.Payload) > 0 {
			ref, err := e.opts.Blobs.Put(ctx, it.Payload)
			if err != nil {
				archiveFailed++
				log.Warn("payload archive failed",
					logging.Field{Key: "external_id", Value: it.ExternalID},
					logging.Field{Key: "error", Value: err.Error()})
			} else {
				it.PayloadRef = ref
				it.Payload = nil
			}
		}
		out[i] = it
	}
	if archiveFailed > 0 {
		u.Warnings = append(u.Warnings, fmt.Sprintf("%d payloads kept inline: archive unavailable", archiveFailed))
	}
	return out
}

// unitStatus maps a module result to the unit's terminal status.
//
// A result that succeeded with no error is Completed; warnings alone never
// degrade it. An unsuccessful result observed after cancellation is
// Cancelled. Otherwise a result that still collected something is
// PartiallyCompleted and one that collected nothing is Failed.
func unitStatus(res modules.Result, cancelled bool) model.RunStatus {
	switch {
	case res.Success && res.Error == "":
		return model.StatusCompleted
	case cancelled && !res.Success:
		return model.StatusCancelled
	case res.ItemCount > 0:
		return model.StatusPartiallyCompleted
	default:
		return model.StatusFailed
	}
}

// runStatus aggregates unit outcomes after a loop that was not cancelled.
// It returns the status and the run-level error message.
func runStatus(outcomes []model.RunStatus) (model.RunStatus, string) {
	completed, collected := 0, 0
	for _, st := range outcomes {
		switch st {
		case model.StatusCompleted:
			completed++
			collected++
		case model.StatusPartiallyCompleted:
			collected++
		}
	}
	switch {
	case len(outcomes) > 0 && completed == len(outcomes):
		return model.StatusCompleted, ""
	case collected > 0:
		return model.StatusPartiallyCompleted, ""
	default:
		return model.StatusFailed, "all domains failed"
	}
}

// ─── Finalization ──────────────────────────────────────────────────────

func (e *Engine) finishNormal(x *execution) {
	x.mu.Lock()
	outcomes := make([]model.RunStatus, 0, len(x.outcomes))
	var scored []model.Domain
	for _, u := range x.units {
		st, ok := x.outcomes[u.ID]
		if !ok {
			continue
		}
		outcomes = append(outcomes, st)
		if report.Scored(st) {
			scored = append(scored, u.Domain)
		}
	}
	findings := append([]model.Finding{}, x.findings...)
	items := x.items
	x.mu.Unlock()

	status, msg := runStatus(outcomes)
	now := e.opts.Clock()

	// units whose final write was lost are still open in the store
	ctx, cancel := e.finalCtx(context.Background())
	defer cancel()
	if n, err := e.store.FailOpenUnits(ctx, x.run.ID, "domain result not persisted", now); err != nil {
		x.logger.Error("failed to fail open units", logging.Field{Key: "error", Value: err.Error()})
	} else if n > 0 {
		x.logger.Warn("failed units left open", logging.Field{Key: "count", Value: n})
	}

	run := x.run
	run.Status = status
	run.ErrorMessage = msg
	run.CompletedAt = &now
	run.UpdatedAt = now
	switch e.kind {
	case model.KindAssessment:
		run.TotalItems = len(findings)
		if report.Scored(status) {
			overall := e.opts.Scorer.Overall(e.opts.Scorer.ByDomain(scored, findings))
			run.OverallScore = &overall
		}
	case model.KindInventory:
		run.TotalItems = items
	}
	e.persistRun(x)

	e.tracker.Update(run.ID, func(p *model.Progress) {
		p.Status = status
		p.Percentage = 100
		p.CurrentDomain = nil
		p.ActiveDomains = []model.Domain{}
		p.CompletedAt = &now
	})
	e.opts.Metrics.RunFinished(string(e.kind), string(status))
	x.logger.Info("run finished",
		logging.Field{Key: "status", Value: string(status)},
		logging.Field{Key: "total_items", Value: run.TotalItems})
}

// finishCancelled closes every open unit as Cancelled. Cancelled is the
// headline status even when some units completed.
func (e *Engine) finishCancelled(x *execution) {
	now := e.opts.Clock()
	ctx, cancel := e.finalCtx(context.Background())
	defer cancel()
	if _, err := e.store.CancelOpenUnits(ctx, x.run.ID, now); err != nil {
		x.logger.Error("failed to cancel open units", logging.Field{Key: "error", Value: err.Error()})
	}

	x.mu.Lock()
	items := x.items
	findings := len(x.findings)
	x.mu.Unlock()

	run := x.run
	run.Status = model.StatusCancelled
	run.CompletedAt = &now
	run.UpdatedAt = now
	run.OverallScore = nil
	if e.kind == model.KindInventory {
		run.TotalItems = items
	} else {
		run.TotalItems = findings
	}
	e.persistRun(x)

	e.tracker.Update(run.ID, func(p *model.Progress) {
		p.Status = model.StatusCancelled
		p.CurrentDomain = nil
		p.ActiveDomains = []model.Domain{}
		p.Pending = []model.Domain{}
		p.CompletedAt = &now
	})
	e.opts.Metrics.RunFinished(string(e.kind), string(model.StatusCancelled))
	x.logger.Info("run cancelled")
}

// finishFailed drives the run to Failed, failing every open unit with msg.
// It serves both fatal preconditions and recovered panics.
func (e *Engine) finishFailed(x *execution, msg string) {
	now := e.opts.Clock()
	ctx, cancel := e.finalCtx(context.Background())
	defer cancel()
	if _, err := e.store.FailOpenUnits(ctx, x.run.ID, msg, now); err != nil {
		x.logger.Error("failed to fail open units", logging.Field{Key: "error", Value: err.Error()})
	}

	run := x.run
	run.Status = model.StatusFailed
	run.ErrorMessage = msg
	run.CompletedAt = &now
	run.UpdatedAt = now
	run.OverallScore = nil
	e.persistRun(x)

	e.tracker.Update(run.ID, func(p *model.Progress) {
		p.Failed = append(p.Failed, p.ActiveDomains...)
		p.Failed = append(p.Failed, p.Pending...)
		p.Status = model.StatusFailed
		p.Pending = []model.Domain{}
		p.ActiveDomains = []model.Domain{}
		p.CurrentDomain = nil
		p.Errors = append(p.Errors, msg)
		p.Percentage = 100
		p.CompletedAt = &now
	})
	e.opts.Metrics.RunFinished(string(e.kind), string(model.StatusFailed))
	x.logger.Warn("run failed", logging.Field{Key: "error", Value: msg})
}

// finishInterrupted fails a run whose parent context ended under it.
func (e *Engine) finishInterrupted(x *execution) {
	if cause := context.Cause(x.parent); cause != nil {
		x.logger.Warn("run interrupted", logging.Field{Key: "cause", Value: cause.Error()})
	}
	e.finishFailed(x, shutdownMessage)
}

func (e *Engine) persistRun(x *execution) {
	ctx, cancel := e.finalCtx(context.Background())
	defer cancel()
	if err := e.store.UpdateRun(ctx, x.run); err != nil {
		if errors.Is(err, store.ErrRunTerminal) {
			x.logger.Warn("run already terminal, final status not written")
			return
		}
		x.logger.Error("failed to persist run", logging.Field{Key: "error", Value: err.Error()})
	}
}

// ─── Progress ──────────────────────────────────────────────────────────

func (e *Engine) progressRunning(x *execution) {
	_, ok := e.tracker.Update(x.run.ID, func(p *model.Progress) {
		p.Status = model.StatusRunning
	})
	if ok {
		return
	}
	// restarted process: seed from the rows loaded for this execution
	p := progress.Project(x.run, x.units)
	p.Status = model.StatusRunning
	e.tracker.Set(p)
}

func (e *Engine) progressUnitStarted(x *execution, d model.Domain) {
	e.tracker.Update(x.run.ID, func(p *model.Progress) {
		p.Pending = progress.Remove(p.Pending, d)
		p.ActiveDomains = append(p.ActiveDomains, d)
		cur := d
		p.CurrentDomain = &cur
	})
}

func (e *Engine) progressUnitFinished(x *execution, u model.DomainUnit) {
	e.tracker.Update(x.run.ID, func(p *model.Progress) {
		p.ActiveDomains = progress.Remove(p.ActiveDomains, u.Domain)
		switch u.Status {
		case model.StatusCompleted, model.StatusPartiallyCompleted:
			p.Completed = append(p.Completed, u.Domain)
		case model.StatusFailed:
			p.Failed = append(p.Failed, u.Domain)
		}
		if u.ErrorMessage != "" && u.Status != model.StatusCancelled {
			p.Errors = append(p.Errors, fmt.Sprintf("%s: %s", u.Domain, u.ErrorMessage))
		}
		p.CurrentDomain = nil
		if len(p.ActiveDomains) > 0 {
			cur := p.ActiveDomains[0]
			p.CurrentDomain = &cur
		}
		p.Percentage = progress.Percentage(len(p.Completed)+len(p.Failed), x.total)
	})
}
