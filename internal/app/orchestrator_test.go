package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raysh454/kansa/internal/demoprovider"
	"github.com/raysh454/kansa/internal/dispatch"
	"github.com/raysh454/kansa/internal/engine"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/store"
	"github.com/raysh454/kansa/internal/testutil"
)

// newTestApplication wires a full application over a TempDir sqlite store
// and a fake provider serving the demo fixtures for posture.
func newTestApplication(t *testing.T, posture demoprovider.Posture, mutate func(*Config)) *Application {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StorageRoot = t.TempDir()
	cfg.ReconcileInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	objects, collections := demoprovider.Fixtures(posture, time.Now()).JSON()
	factory := &testutil.FakeFactory{Client: &testutil.FakeClient{Objects: objects, Collections: collections}}

	a, err := NewApplication(context.Background(), cfg, &testutil.DummyLogger{}, Deps{Factory: factory})
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func createTenant(t *testing.T, o *Orchestrator) *model.Tenant {
	t.Helper()
	tn, err := o.CreateTenant(context.Background(), TenantRequest{
		Name: "Contoso", DirectoryID: "dir-1", ClientID: "demo-client", ClientSecret: "demo-secret",
	})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	return tn
}

func waitTerminal(t *testing.T, o *Orchestrator, kind model.RunKind, runID string) *engine.RunDetail {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		d, err := o.GetRun(context.Background(), kind, runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if d.Run.Status.IsTerminal() {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", runID)
	return nil
}

// ─── Tenants ───────────────────────────────────────────────────────────

func TestOrchestrator_TenantLifecycle(t *testing.T) {
	a := newTestApplication(t, demoprovider.PostureHardened, nil)
	ctx := context.Background()

	if _, err := a.Orch.CreateTenant(ctx, TenantRequest{Name: "x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}

	tn := createTenant(t, a.Orch)
	list, err := a.Orch.ListTenants(ctx)
	if err != nil || len(list) != 1 || list[0].ID != tn.ID {
		t.Fatalf("ListTenants = %v, %v", list, err)
	}
	if err := a.Orch.DeleteTenant(ctx, tn.ID); err != nil {
		t.Fatalf("DeleteTenant: %v", err)
	}
	if _, err := a.Orch.GetTenant(ctx, tn.ID); !errors.Is(err, store.ErrTenantNotFound) {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}

// ─── Runs (workers not started) ────────────────────────────────────────

func TestOrchestrator_QueuedRunBlocksTenantDeleteAndIgnoresCancel(t *testing.T) {
	a := newTestApplication(t, demoprovider.PostureHardened, nil)
	ctx := context.Background()
	tn := createTenant(t, a.Orch)

	d, err := a.Orch.StartRun(ctx, model.KindAssessment, tn.ID, []string{"identityandaccess"}, "tester")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if d.Run.Status != model.StatusPending || len(d.Units) != 1 || d.Units[0].Domain != model.DomainIdentityAndAccess {
		t.Errorf("unexpected run: %+v", d)
	}

	res, err := a.Orch.CancelRun(ctx, model.KindAssessment, d.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cancelled || res.Status != model.StatusPending {
		t.Errorf("cancel of a queued run must be a no-op: %+v", res)
	}

	if err := a.Orch.DeleteTenant(ctx, tn.ID); !errors.Is(err, ErrTenantBusy) {
		t.Errorf("expected ErrTenantBusy, got %v", err)
	}
}

func TestOrchestrator_QueueFullRemovesRun(t *testing.T) {
	a := newTestApplication(t, demoprovider.PostureHardened, func(c *Config) { c.QueueSize = 1 })
	ctx := context.Background()
	tn := createTenant(t, a.Orch)

	if _, err := a.Orch.StartRun(ctx, model.KindInventory, tn.ID, nil, ""); err != nil {
		t.Fatalf("first StartRun: %v", err)
	}
	_, err := a.Orch.StartRun(ctx, model.KindInventory, tn.ID, nil, "")
	if !errors.Is(err, dispatch.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	runs, err := a.Orch.ListRuns(ctx, tn.ID, model.KindInventory, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("refused run should be removed, found %d runs", len(runs))
	}
}

func TestOrchestrator_Validation(t *testing.T) {
	a := newTestApplication(t, demoprovider.PostureHardened, nil)
	ctx := context.Background()
	tn := createTenant(t, a.Orch)

	if _, err := a.Orch.Engine("audit"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := a.Orch.StartRun(ctx, model.KindAssessment, tn.ID, []string{"Users"}, ""); !errors.Is(err, engine.ErrUnknownDomain) {
		t.Errorf("expected ErrUnknownDomain, got %v", err)
	}
	if _, err := a.Orch.StartRun(ctx, model.KindAssessment, "missing", nil, ""); !errors.Is(err, engine.ErrInvalidTenant) {
		t.Errorf("expected ErrInvalidTenant, got %v", err)
	}
	if _, err := a.Orch.ListRuns(ctx, tn.ID, "audit", 0); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := a.Orch.GetRun(ctx, model.KindInventory, "missing"); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

// ─── End to end ────────────────────────────────────────────────────────

func TestOrchestrator_AssessmentEndToEnd(t *testing.T) {
	a := newTestApplication(t, demoprovider.PostureHardened, nil)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tn := createTenant(t, a.Orch)

	started, err := a.Orch.StartRun(ctx, model.KindAssessment, tn.ID, nil, "tester")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	d := waitTerminal(t, a.Orch, model.KindAssessment, started.Run.ID)
	if d.Run.Status != model.StatusCompleted {
		t.Fatalf("status = %s (%s)", d.Run.Status, d.Run.ErrorMessage)
	}
	if len(d.Units) != len(model.AssessmentDomains) {
		t.Errorf("expected %d units, got %d", len(model.AssessmentDomains), len(d.Units))
	}

	r, err := a.Orch.GetReport(ctx, model.KindAssessment, started.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.OverallScore == nil || len(r.Findings) == 0 {
		t.Errorf("unexpected report: %+v", r)
	}

	p, err := a.Orch.GetProgress(ctx, model.KindAssessment, started.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != model.StatusCompleted || p.Percentage != 100 {
		t.Errorf("unexpected progress: %+v", p)
	}
}

func TestOrchestrator_InventoryDriftAgainstPreviousRun(t *testing.T) {
	a := newTestApplication(t, demoprovider.PostureWeak, nil)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	tn := createTenant(t, a.Orch)

	first, err := a.Orch.StartRun(ctx, model.KindInventory, tn.ID, []string{"Users", "Groups"}, "")
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, a.Orch, model.KindInventory, first.Run.ID)

	if _, err := a.Orch.Drift(ctx, first.Run.ID, "", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected no earlier run to compare with, got %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	second, err := a.Orch.StartRun(ctx, model.KindInventory, tn.ID, []string{"Users", "Groups"}, "")
	if err != nil {
		t.Fatal(err)
	}
	d := waitTerminal(t, a.Orch, model.KindInventory, second.Run.ID)
	if d.Run.Status != model.StatusCompleted || d.Run.TotalItems == 0 {
		t.Fatalf("unexpected inventory run: %+v", d.Run)
	}

	rep, err := a.Orch.Drift(ctx, second.Run.ID, "", "Users")
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if rep.BaseRunID != first.Run.ID || len(rep.Added) != 0 || len(rep.Removed) != 0 || rep.Unchanged == 0 {
		t.Errorf("identical fixtures should not drift: %+v", rep)
	}

	detail, err := a.Orch.GetDomainDetail(ctx, model.KindInventory, second.Run.ID, "users")
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range detail.Items {
		if it.PayloadRef == "" || len(it.Payload) == 0 {
			t.Errorf("expected archived and resolved payload: %+v", it)
		}
	}
}
