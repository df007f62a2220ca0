// Package reconcile repairs the gap between durable run rows and what this
// process is actually executing: it rebuilds progress after a restart,
// fails runs that stopped making progress and re-dispatches queued runs.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/raysh454/kansa/internal/dispatch"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/store"
)

// StaleMessage is recorded on runs and units failed for lack of progress.
const StaleMessage = "stale run: no progress"

// Enqueuer accepts dispatch jobs. *dispatch.Queue satisfies it.
type Enqueuer interface {
	Enqueue(job dispatch.Job) error
}

// InFlight reports whether this process is executing runID.
type InFlight func(runID string) bool

type Options struct {
	// StaleAfter is how long a Running run may go without an update.
	StaleAfter time.Duration
	// RequeueAfter is how long a Pending run waits before a periodic pass
	// dispatches it again. The startup pass ignores it.
	RequeueAfter time.Duration
	// Retention bounds how long terminal progress stays in memory.
	Retention time.Duration
	// Interval between periodic passes.
	Interval time.Duration
	Clock    func() time.Time
}

func (o *Options) applyDefaults() {
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Minute
	}
	if o.RequeueAfter <= 0 {
		o.RequeueAfter = time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
}

// Stats summarizes one pass.
type Stats struct {
	Rehydrated int `json:"rehydrated"`
	Requeued   int `json:"requeued"`
	Failed     int `json:"failed"`
	Pruned     int `json:"pruned"`
}

type Reconciler struct {
	store    store.Store
	tracker  *progress.Tracker
	queue    Enqueuer
	inFlight InFlight
	logger   logging.Logger
	opts     Options
}

// New builds a Reconciler. A nil inFlight treats every run as idle.
func New(st store.Store, tracker *progress.Tracker, queue Enqueuer, inFlight InFlight, logger logging.Logger, opts Options) *Reconciler {
	opts.applyDefaults()
	if inFlight == nil {
		inFlight = func(string) bool { return false }
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Reconciler{
		store:    st,
		tracker:  tracker,
		queue:    queue,
		inFlight: inFlight,
		logger:   logger.With(logging.Field{Key: "component", Value: "reconcile"}),
		opts:     opts,
	}
}

// Startup runs the pass performed when the process boots: every Pending run
// is dispatched regardless of age.
func (r *Reconciler) Startup(ctx context.Context) (Stats, error) {
	return r.pass(ctx, 0)
}

// RunOnce performs one periodic pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Stats, error) {
	return r.pass(ctx, r.opts.RequeueAfter)
}

// Run repeats RunOnce every Interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("reconcile pass failed", logging.Field{Key: "error", Value: err.Error()})
			}
		}
	}
}

func (r *Reconciler) pass(ctx context.Context, requeueAfter time.Duration) (Stats, error) {
	var stats Stats
	now := r.opts.Clock()

	runs, err := r.store.ListRuns(ctx, store.RunFilter{
		Statuses: []model.RunStatus{model.StatusPending, model.StatusRunning},
	})
	if err != nil {
		return stats, err
	}

	queueFull := false
	for i := range runs {
		run := &runs[i]
		if r.inFlight(run.ID) {
			continue
		}
		log := r.logger.With(logging.Field{Key: "run_id", Value: run.ID})

		if _, ok := r.tracker.Get(run.ID); !ok {
			if _, err := r.tracker.Rehydrate(ctx, r.store, run.ID); err != nil {
				log.Warn("progress rehydrate failed", logging.Field{Key: "error", Value: err.Error()})
			} else {
				stats.Rehydrated++
			}
		}

		if run.Status != model.StatusPending || queueFull || r.queue == nil {
			continue
		}
		if requeueAfter > 0 && run.UpdatedAt.After(now.Add(-requeueAfter)) {
			continue
		}
		err := r.queue.Enqueue(dispatch.Job{RunID: run.ID, Kind: run.Kind})
		switch {
		case err == nil:
			stats.Requeued++
			log.Info("pending run re-dispatched")
		case errors.Is(err, dispatch.ErrQueueFull):
			queueFull = true
			log.Warn("dispatch queue full, deferring pending runs")
		default:
			log.Warn("re-dispatch failed", logging.Field{Key: "error", Value: err.Error()})
		}
	}

	stale, err := r.store.ListStaleRuns(ctx, now.Add(-r.opts.StaleAfter))
	if err != nil {
		return stats, err
	}
	for i := range stale {
		run := &stale[i]
		if r.inFlight(run.ID) {
			continue
		}
		log := r.logger.With(logging.Field{Key: "run_id", Value: run.ID})
		if err := r.failStale(ctx, run, now); err != nil {
			log.Error("failed to fail stale run", logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		stats.Failed++
		log.Warn("stale run failed", logging.Field{Key: "last_update", Value: run.UpdatedAt.Format(time.RFC3339)})
	}

	stats.Pruned = r.tracker.Prune(r.opts.Retention)
	if stats != (Stats{}) {
		r.logger.Info("reconcile pass",
			logging.Field{Key: "rehydrated", Value: stats.Rehydrated},
			logging.Field{Key: "requeued", Value: stats.Requeued},
			logging.Field{Key: "failed", Value: stats.Failed},
			logging.Field{Key: "pruned", Value: stats.Pruned})
	}
	return stats, nil
}

// failStale drives a run that nobody is executing to Failed and refreshes
// its progress from the rows written.
func (r *Reconciler) failStale(ctx context.Context, run *model.Run, now time.Time) error {
	if _, err := r.store.FailOpenUnits(ctx, run.ID, StaleMessage, now); err != nil {
		return err
	}
	run.Status = model.StatusFailed
	run.ErrorMessage = StaleMessage
	run.CompletedAt = &now
	run.UpdatedAt = now
	run.OverallScore = nil
	if err := r.store.UpdateRun(ctx, run); err != nil && !errors.Is(err, store.ErrRunTerminal) {
		return err
	}
	_, err := r.tracker.Rehydrate(ctx, r.store, run.ID)
	return err
}
