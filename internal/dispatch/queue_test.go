package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/testutil"
)

// ─── Helpers ───────────────────────────────────────────────────────────

type recorder struct {
	mu   sync.Mutex
	runs []string
	done chan string
}

func newRecorder(n int) *recorder {
	return &recorder{done: make(chan string, n)}
}

func (r *recorder) handle(_ context.Context, runID string) error {
	r.mu.Lock()
	r.runs = append(r.runs, runID)
	r.mu.Unlock()
	r.done <- runID
	return nil
}

func waitFor(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case id := <-ch:
			got = append(got, id)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d jobs", len(got), n)
		}
	}
	return got
}

// ─── Queue ─────────────────────────────────────────────────────────────

func TestQueue_RoutesByKind(t *testing.T) {
	q := New(2, 8, &testutil.DummyLogger{})
	assess, inv := newRecorder(4), newRecorder(4)
	q.Handle(model.KindAssessment, assess.handle)
	q.Handle(model.KindInventory, inv.handle)
	q.Start()
	defer func() { _ = q.Shutdown(context.Background()) }()

	for _, j := range []Job{
		{RunID: "a1", Kind: model.KindAssessment},
		{RunID: "i1", Kind: model.KindInventory},
		{RunID: "a2", Kind: model.KindAssessment},
	} {
		if err := q.Enqueue(j); err != nil {
			t.Fatalf("Enqueue(%s): %v", j.RunID, err)
		}
	}

	if got := waitFor(t, assess.done, 2); len(got) != 2 {
		t.Errorf("assessment handler got %v", got)
	}
	if got := waitFor(t, inv.done, 1); got[0] != "i1" {
		t.Errorf("inventory handler got %v", got)
	}
}

func TestQueue_UnknownKindRejected(t *testing.T) {
	q := New(1, 1, nil)
	err := q.Enqueue(Job{RunID: "x", Kind: model.KindInventory})
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
}

func TestQueue_FullQueue(t *testing.T) {
	q := New(1, 1, nil)
	q.Handle(model.KindAssessment, func(context.Context, string) error { return nil })

	// not started: the buffer holds exactly one job
	if err := q.Enqueue(Job{RunID: "1", Kind: model.KindAssessment}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := q.Enqueue(Job{RunID: "2", Kind: model.KindAssessment}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestQueue_ShutdownCancelsInFlightJob(t *testing.T) {
	q := New(1, 4, nil)
	started := make(chan struct{})
	stopped := make(chan error, 1)
	cause := make(chan error, 1)
	q.Handle(model.KindAssessment, func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		stopped <- ctx.Err()
		return ctx.Err()
	})
	q.Start()

	if err := q.Enqueue(Job{RunID: "r", Kind: model.KindAssessment}); err != nil {
		t.Fatal(err)
	}
	<-started

	select {
	case <-stopped:
		t.Fatal("job must run until Shutdown")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-stopped; !errors.Is(err, context.Canceled) {
		t.Errorf("expected in-flight job cancelled by Shutdown, got %v", err)
	}
	if err := <-cause; !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown as the cancel cause, got %v", err)
	}
	if err := q.Enqueue(Job{RunID: "late", Kind: model.KindAssessment}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Shutdown, got %v", err)
	}
}

func TestQueue_HandlerErrorsAndPanicsKeepWorkerAlive(t *testing.T) {
	logger := &testutil.DummyLogger{}
	q := New(1, 4, logger)
	rec := newRecorder(1)
	q.Handle(model.KindAssessment, func(_ context.Context, runID string) error {
		switch runID {
		case "boom":
			panic("handler exploded")
		case "err":
			return errors.New("store unavailable")
		}
		return rec.handle(context.Background(), runID)
	})
	q.Start()
	defer func() { _ = q.Shutdown(context.Background()) }()

	for _, id := range []string{"boom", "err", "ok"} {
		if err := q.Enqueue(Job{RunID: id, Kind: model.KindAssessment}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, rec.done, 1)

	if !logger.Logged("recovered panic in job handler") {
		t.Error("expected panic to be logged")
	}
	if !logger.Logged("job failed") {
		t.Error("expected handler error to be logged")
	}
}

func TestQueue_ShutdownIdempotent(t *testing.T) {
	q := New(2, 2, nil)
	q.Start()
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	q.Start()
}
