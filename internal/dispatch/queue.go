// Package dispatch runs engine executions on a fixed pool of background
// workers, detached from the requests that created the runs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrClosed    = errors.New("dispatch queue closed")
	ErrNoHandler = errors.New("no handler for run kind")
	// ErrShutdown is the cause handlers see on their context after Shutdown.
	ErrShutdown = errors.New("dispatcher shut down")
)

// Job asks a worker to execute one run.
type Job struct {
	RunID string        `json:"run_id"`
	Kind  model.RunKind `json:"kind"`
}

// Handler executes a run. Engine.Execute satisfies it.
type Handler func(ctx context.Context, runID string) error

// Queue is a bounded job queue drained by a fixed number of workers. Every
// job runs with a context derived from the queue's root context, so a job
// outlives the request that enqueued it and stops only on Shutdown.
type Queue struct {
	workers int
	jobs    chan Job
	logger  logging.Logger

	handlers map[model.RunKind]Handler

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// New builds a queue with the given worker count and buffer size. Register
// handlers with Handle before calling Start.
func New(workers, size int, logger logging.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Queue{
		workers:  workers,
		jobs:     make(chan Job, size),
		logger:   logger.With(logging.Field{Key: "component", Value: "dispatch"}),
		handlers: make(map[model.RunKind]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers h for runs of kind.
func (q *Queue) Handle(kind model.RunKind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("dispatcher started", logging.Field{Key: "workers", Value: q.workers})
}

// Enqueue hands job to the workers without blocking.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if _, ok := q.handlers[job.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, job.Kind)
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued jobs not yet picked up.
func (q *Queue) Len() int { return len(q.jobs) }

// Shutdown stops intake, cancels in-flight jobs through the root context and
// waits for the workers to exit or ctx to end. Queued jobs are dropped; their
// runs stay Pending for the next reconcile pass.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.cancel(ErrShutdown)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		if q.ctx.Err() != nil {
			q.logger.Debug("dropping job after shutdown", logging.Field{Key: "run_id", Value: job.RunID})
			continue
		}
		q.run(id, job)
	}
}

func (q *Queue) run(worker int, job Job) {
	log := q.logger.With(
		logging.Field{Key: "worker", Value: worker},
		logging.Field{Key: "run_id", Value: job.RunID},
		logging.Field{Key: "kind", Value: string(job.Kind)})
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic in job handler",
				logging.Field{Key: "panic", Value: fmt.Sprint(r)},
				logging.Field{Key: "stack", Value: string(debug.Stack())})
		}
	}()

	q.mu.RLock()
	h := q.handlers[job.Kind]
	q.mu.RUnlock()
	if h == nil {
		log.Error("no handler for job")
		return
	}
	if err := h(q.ctx, job.RunID); err != nil {
		log.Error("job failed", logging.Field{Key: "error", Value: err.Error()})
	}
}
