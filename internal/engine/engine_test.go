package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/kansa/internal/blobstore"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/provider"
	"github.com/raysh454/kansa/internal/store"
	"github.com/raysh454/kansa/internal/testutil"
)

// ─── Harness ───────────────────────────────────────────────────────────

type harness struct {
	e       *Engine
	st      *store.SQL
	factory *testutil.FakeFactory
	client  *testutil.FakeClient
	tracker *progress.Tracker
	logger  *testutil.DummyLogger
}

func newHarness(t *testing.T, kind model.RunKind, opts Options, mods ...modules.Module) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite", "file:"+filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	err = st.CreateTenant(ctx, &model.Tenant{
		ID: "t1", Name: "Contoso", DirectoryID: "dir-1", ClientID: "app", ClientSecret: "s3cret", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	h := &harness{
		st:      st,
		client:  &testutil.FakeClient{},
		tracker: progress.NewTracker(progress.NewBroker(64)),
		logger:  &testutil.DummyLogger{},
	}
	h.factory = &testutil.FakeFactory{Client: h.client}
	h.e = New(kind, st, h.factory, modules.NewRegistry(mods...), h.tracker, h.logger, opts)
	return h
}

func (h *harness) start(t *testing.T, domains ...model.Domain) string {
	t.Helper()
	id, err := h.e.Start(context.Background(), StartRequest{TenantID: "t1", Domains: domains, InitiatedBy: "tester"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return id
}

func (h *harness) execute(t *testing.T, runID string) {
	t.Helper()
	if err := h.e.Execute(context.Background(), runID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func (h *harness) detail(t *testing.T, runID string) (*model.Run, map[model.Domain]model.DomainUnit) {
	t.Helper()
	d, err := h.e.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	units := make(map[model.Domain]model.DomainUnit, len(d.Units))
	for _, u := range d.Units {
		units[u.Domain] = u
	}
	return &d.Run, units
}

// funcModule runs fn as its Collect.
type funcModule struct {
	d  model.Domain
	fn func(ctx context.Context) modules.Result
}

func (m funcModule) Domain() model.Domain { return m.d }

func (m funcModule) Collect(ctx context.Context, _ provider.Client, _, _ string) modules.Result {
	return m.fn(ctx)
}

type panicFactory struct{}

func (panicFactory) CreateClient(context.Context, provider.Credentials) (provider.Client, error) {
	panic("factory exploded")
}

const (
	iam = model.DomainIdentityAndAccess
	pam = model.DomainPrivilegedAccess
	dev = model.DomainDeviceAndEndpoint
	exo = model.DomainExchangeEmail
)

// ─── Start ─────────────────────────────────────────────────────────────

func TestStart_PersistsPendingRun(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{})
	id := h.start(t)

	run, units := h.detail(t, id)
	if run.Status != model.StatusPending || run.Kind != model.KindAssessment || run.InitiatedBy != "tester" {
		t.Errorf("unexpected run: %+v", run)
	}
	if len(units) != len(model.AssessmentDomains) {
		t.Fatalf("expected a unit per assessment domain, got %d", len(units))
	}
	for _, u := range units {
		if u.Status != model.StatusPending {
			t.Errorf("unit %s: status %s", u.Domain, u.Status)
		}
	}

	p := h.e.GetProgress(id)
	if p.Status != model.StatusPending || len(p.Pending) != len(model.AssessmentDomains) || p.StartedAt.IsZero() {
		t.Errorf("unexpected progress: %+v", p)
	}
	if h.factory.CreatedCount() != 0 {
		t.Error("Start must not create a provider client")
	}
}

func TestStart_DedupesAndOrdersDomains(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{})
	id := h.start(t, exo, iam, exo, pam)

	d, err := h.e.GetRun(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	want := []model.Domain{iam, pam, exo}
	if len(d.Units) != len(want) {
		t.Fatalf("got %d units, want %d", len(d.Units), len(want))
	}
	for i, w := range want {
		if d.Units[i].Domain != w || d.Units[i].Seq != i {
			t.Errorf("unit %d: got %s seq %d, want %s", i, d.Units[i].Domain, d.Units[i].Seq, w)
		}
	}
}

func TestStart_Errors(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{})
	ctx := context.Background()

	_, err := h.e.Start(ctx, StartRequest{TenantID: "nope"})
	if !errors.Is(err, ErrInvalidTenant) || !errors.Is(err, store.ErrTenantNotFound) {
		t.Errorf("expected invalid tenant, got %v", err)
	}
	if _, err := h.e.Start(ctx, StartRequest{}); !errors.Is(err, ErrInvalidTenant) {
		t.Errorf("expected invalid tenant for empty id, got %v", err)
	}
	_, err = h.e.Start(ctx, StartRequest{TenantID: "t1", Domains: []model.Domain{model.DomainUsers}})
	if !errors.Is(err, ErrUnknownDomain) {
		t.Errorf("expected unknown domain, got %v", err)
	}
}

// ─── Execute ───────────────────────────────────────────────────────────

func TestExecute_PartialFailureAndMissingModule(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{},
		testutil.OK(iam, 2),
		testutil.Failing(pam, "directory role listing failed"),
	)
	id := h.start(t, iam, pam, dev)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if run.Status != model.StatusPartiallyCompleted {
		t.Fatalf("run status = %s, want PartiallyCompleted", run.Status)
	}
	if run.ErrorMessage != "" {
		t.Errorf("run error should stay empty, got %q", run.ErrorMessage)
	}
	if run.CompletedAt == nil {
		t.Error("terminal run must have CompletedAt")
	}
	if run.OverallScore == nil || *run.OverallScore != 92 {
		t.Errorf("expected overall score 92 from the one scored domain, got %v", run.OverallScore)
	}

	if u := units[iam]; u.Status != model.StatusCompleted || u.ItemCount != 2 {
		t.Errorf("IAM unit: %+v", u)
	}
	if u := units[pam]; u.Status != model.StatusFailed || u.ErrorMessage != "directory role listing failed" {
		t.Errorf("PAM unit: %+v", u)
	}
	if u := units[dev]; u.Status != model.StatusFailed || u.ErrorMessage != "Module not found" {
		t.Errorf("DEV unit: %+v", u)
	}

	p := h.e.GetProgress(id)
	if p.Status != model.StatusPartiallyCompleted || p.Percentage != 100 || p.CurrentDomain != nil {
		t.Errorf("unexpected final progress: %+v", p)
	}
	if len(p.Completed) != 1 || len(p.Failed) != 2 || len(p.Errors) != 2 {
		t.Errorf("unexpected progress lists: %+v", p)
	}
	if !h.client.Closed {
		t.Error("provider client should be closed after the run")
	}
	if h.factory.CreatedCount() != 1 {
		t.Errorf("expected one client per run, got %d", h.factory.CreatedCount())
	}
}

func TestExecute_AllCompleted(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{}, testutil.OK(iam, 1), testutil.OK(pam, 0))
	id := h.start(t, iam, pam)
	h.execute(t, id)

	run, _ := h.detail(t, id)
	if run.Status != model.StatusCompleted {
		t.Fatalf("status = %s", run.Status)
	}
	if run.OverallScore == nil || *run.OverallScore != 100 {
		t.Errorf("expected 100 (only compliant findings), got %v", run.OverallScore)
	}
	if run.TotalItems != 1 {
		t.Errorf("expected 1 finding recorded, got %d", run.TotalItems)
	}
}

func TestExecute_WarningsDoNotDegrade(t *testing.T) {
	mod := testutil.OK(iam, 1)
	mod.Result.Warnings = []string{"sub-resource /x inaccessible, skipped"}
	h := newHarness(t, model.KindAssessment, Options{}, mod)
	id := h.start(t, iam)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if run.Status != model.StatusCompleted || units[iam].Status != model.StatusCompleted {
		t.Errorf("warnings must not degrade: run=%s unit=%s", run.Status, units[iam].Status)
	}
	if len(units[iam].Warnings) != 1 {
		t.Errorf("warnings not persisted: %v", units[iam].Warnings)
	}
}

func TestExecute_AllFailed(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{}, testutil.Failing(iam, "a"), testutil.Failing(pam, "b"))
	id := h.start(t, iam, pam)
	h.execute(t, id)

	run, _ := h.detail(t, id)
	if run.Status != model.StatusFailed || run.ErrorMessage != "all domains failed" {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.OverallScore != nil {
		t.Error("failed run must not carry a score")
	}
}

func TestExecute_PartialResultWithError(t *testing.T) {
	mod := &testutil.StubModule{D: iam, Result: modules.Result{Success: false, Error: "paging aborted"}, Findings: 3}
	h := newHarness(t, model.KindAssessment, Options{}, mod)
	id := h.start(t, iam)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if units[iam].Status != model.StatusPartiallyCompleted || units[iam].ItemCount != 3 {
		t.Errorf("unexpected unit: %+v", units[iam])
	}
	if run.Status != model.StatusPartiallyCompleted || run.OverallScore == nil {
		t.Errorf("unexpected run: %+v", run)
	}
	findings, _ := h.e.GetFindings(context.Background(), id, store.FindingFilter{})
	if len(findings) != 3 {
		t.Errorf("partial findings should be kept, got %d", len(findings))
	}
}

func TestExecute_CancelBetweenDomains(t *testing.T) {
	var h *harness
	var runID string
	first := funcModule{d: iam, fn: func(ctx context.Context) modules.Result {
		if !h.e.Cancel(runID) {
			t.Error("expected an in-flight execution to cancel")
		}
		return modules.Result{Success: true, ItemCount: 4, Warnings: []string{}}
	}}
	second := testutil.OK(pam, 1)
	h = newHarness(t, model.KindAssessment, Options{}, first, second, testutil.OK(dev, 1))
	runID = h.start(t, iam, pam, dev)
	h.execute(t, runID)

	run, units := h.detail(t, runID)
	if run.Status != model.StatusCancelled {
		t.Fatalf("run status = %s, want Cancelled", run.Status)
	}
	if run.OverallScore != nil || run.CompletedAt == nil {
		t.Errorf("cancelled run: score=%v completed=%v", run.OverallScore, run.CompletedAt)
	}
	if u := units[iam]; u.Status != model.StatusCompleted || u.ItemCount != 4 {
		t.Errorf("first unit should keep its result: %+v", u)
	}
	for _, d := range []model.Domain{pam, dev} {
		if units[d].Status != model.StatusCancelled {
			t.Errorf("%s: status %s, want Cancelled", d, units[d].Status)
		}
	}
	if second.Calls() != 0 {
		t.Error("no unit may start after cancellation")
	}
	if p := h.e.GetProgress(runID); p.Status != model.StatusCancelled || len(p.Pending) != 0 {
		t.Errorf("unexpected progress: %+v", p)
	}
}

func TestExecute_CancelDuringDomain(t *testing.T) {
	blocking := &testutil.StubModule{D: pam, Block: true, Started: make(chan struct{}, 1), Release: make(chan struct{})}
	h := newHarness(t, model.KindAssessment, Options{}, testutil.OK(iam, 1), blocking)
	id := h.start(t, iam, pam)

	done := make(chan error, 1)
	go func() { done <- h.e.Execute(context.Background(), id) }()

	select {
	case <-blocking.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking module never started")
	}
	if !h.e.InFlight(id) {
		t.Error("expected run in flight")
	}
	if !h.e.Cancel(id) {
		t.Fatal("Cancel should find the in-flight run")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}

	run, units := h.detail(t, id)
	if run.Status != model.StatusCancelled {
		t.Errorf("run status = %s", run.Status)
	}
	if units[iam].Status != model.StatusCompleted || units[pam].Status != model.StatusCancelled {
		t.Errorf("unexpected units: iam=%s pam=%s", units[iam].Status, units[pam].Status)
	}
	if h.e.InFlight(id) {
		t.Error("cancel func should be released after the run")
	}
}

func TestExecute_ShutdownFailsRun(t *testing.T) {
	blocking := &testutil.StubModule{D: pam, Block: true, Started: make(chan struct{}, 1), Release: make(chan struct{})}
	h := newHarness(t, model.KindAssessment, Options{}, testutil.OK(iam, 1), blocking, testutil.OK(dev, 1))
	id := h.start(t, iam, pam, dev)

	parent, stop := context.WithCancelCause(context.Background())
	defer stop(nil)
	done := make(chan error, 1)
	go func() { done <- h.e.Execute(parent, id) }()

	select {
	case <-blocking.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking module never started")
	}
	stop(errors.New("dispatcher shut down"))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after shutdown")
	}

	run, units := h.detail(t, id)
	if run.Status != model.StatusFailed || run.ErrorMessage != "interrupted by shutdown" {
		t.Fatalf("shutdown must fail the run, not cancel it: %s %q", run.Status, run.ErrorMessage)
	}
	if run.OverallScore != nil || run.CompletedAt == nil {
		t.Errorf("interrupted run: score=%v completed=%v", run.OverallScore, run.CompletedAt)
	}
	if units[iam].Status != model.StatusCompleted {
		t.Errorf("finished unit should keep its result: %+v", units[iam])
	}
	for _, d := range []model.Domain{pam, dev} {
		if u := units[d]; u.Status != model.StatusFailed || u.ErrorMessage != "interrupted by shutdown" {
			t.Errorf("%s: %s %q, want Failed by shutdown", d, u.Status, u.ErrorMessage)
		}
	}
	if p := h.e.GetProgress(id); p.Status != model.StatusFailed || len(p.Pending) != 0 || len(p.ActiveDomains) != 0 {
		t.Errorf("unexpected progress: %+v", p)
	}
}

// lossyStore drops result writes. With failUpdates set every unit update
// fails too.
type lossyStore struct {
	store.Store
	failUpdates bool
}

func (s lossyStore) CompleteUnit(context.Context, *model.DomainUnit, []model.Finding, []model.InventoryItem) error {
	return errors.New("disk full")
}

func (s lossyStore) UpdateUnit(ctx context.Context, u *model.DomainUnit) error {
	if s.failUpdates {
		return errors.New("disk full")
	}
	return s.Store.UpdateUnit(ctx, u)
}

func TestExecute_UnpersistedResultFailsUnit(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{})
	h.e = New(model.KindAssessment, lossyStore{Store: h.st}, h.factory,
		modules.NewRegistry(testutil.OK(iam, 2)), h.tracker, h.logger, Options{})
	id := h.start(t, iam)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if run.Status == model.StatusCompleted || run.OverallScore != nil {
		t.Fatalf("lost result must not count as collected: %s score=%v", run.Status, run.OverallScore)
	}
	if run.Status != model.StatusFailed || run.ErrorMessage != "all domains failed" {
		t.Errorf("unexpected run: %s %q", run.Status, run.ErrorMessage)
	}
	u := units[iam]
	if u.Status != model.StatusFailed || !strings.Contains(u.ErrorMessage, "persist result: disk full") || u.ItemCount != 0 {
		t.Errorf("unexpected unit: %+v", u)
	}
	if run.TotalItems != 0 {
		t.Errorf("no findings were stored, got TotalItems %d", run.TotalItems)
	}
	p := h.e.GetProgress(id)
	if len(p.Failed) != 1 || p.Failed[0] != iam || len(p.Completed) != 0 {
		t.Errorf("unexpected progress lists: %+v", p)
	}
}

func TestExecute_UnpersistedResultFallsBackToOpenUnitSweep(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{})
	h.e = New(model.KindAssessment, lossyStore{Store: h.st, failUpdates: true}, h.factory,
		modules.NewRegistry(testutil.OK(iam, 1)), h.tracker, h.logger, Options{})
	id := h.start(t, iam)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if run.Status != model.StatusFailed {
		t.Errorf("run status = %s, want Failed", run.Status)
	}
	if u := units[iam]; u.Status != model.StatusFailed || u.ErrorMessage != "domain result not persisted" {
		t.Errorf("open unit should be swept to Failed: %+v", u)
	}
}

func TestExecute_DuplicateDispatchIsNoop(t *testing.T) {
	mod := testutil.OK(iam, 3)
	h := newHarness(t, model.KindAssessment, Options{}, mod)
	id := h.start(t, iam)
	h.execute(t, id)
	h.execute(t, id)

	if mod.Calls() != 1 {
		t.Errorf("module ran %d times", mod.Calls())
	}
	findings, err := h.e.GetFindings(context.Background(), id, store.FindingFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 3 {
		t.Errorf("expected 3 findings after duplicate dispatch, got %d", len(findings))
	}
	run, _ := h.detail(t, id)
	if run.TotalItems != 3 {
		t.Errorf("items double counted: %d", run.TotalItems)
	}
	if !h.logger.Logged("run not pending, skipping duplicate dispatch") {
		t.Error("expected duplicate dispatch to be logged")
	}
}

func TestExecute_ClientCreationFails(t *testing.T) {
	mod := testutil.OK(iam, 1)
	h := newHarness(t, model.KindAssessment, Options{}, mod)
	h.factory.Err = provider.ErrUnauthorized
	id := h.start(t, iam, pam)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if run.Status != model.StatusFailed || !strings.Contains(run.ErrorMessage, "unauthorized") {
		t.Errorf("unexpected run: %+v", run)
	}
	for d, u := range units {
		if u.Status != model.StatusFailed || u.ErrorMessage != run.ErrorMessage {
			t.Errorf("%s: %+v", d, u)
		}
	}
	if mod.Calls() != 0 {
		t.Error("no module may run without a client")
	}
	p := h.e.GetProgress(id)
	if p.Status != model.StatusFailed || len(p.Failed) != 2 {
		t.Errorf("unexpected progress: %+v", p)
	}
}

func TestExecute_ModulePanicIsIsolated(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{},
		&testutil.StubModule{D: iam, Panic: "kaboom"},
		testutil.OK(pam, 1),
	)
	id := h.start(t, iam, pam)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if units[iam].Status != model.StatusFailed || units[iam].ErrorMessage != "module panic: kaboom" {
		t.Errorf("panicking unit: %+v", units[iam])
	}
	if units[pam].Status != model.StatusCompleted {
		t.Errorf("sibling unit: %+v", units[pam])
	}
	if run.Status != model.StatusPartiallyCompleted {
		t.Errorf("run status = %s", run.Status)
	}
}

func TestExecute_TopLevelPanicFailsRun(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{}, testutil.OK(iam, 1))
	h.e.factory = panicFactory{}
	id := h.start(t, iam, pam)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if run.Status != model.StatusFailed || run.ErrorMessage != "internal error: factory exploded" {
		t.Errorf("unexpected run: %+v", run)
	}
	for d, u := range units {
		if u.Status != model.StatusFailed {
			t.Errorf("%s: status %s, want Failed", d, u.Status)
		}
	}
	if h.e.InFlight(id) {
		t.Error("cancel func leaked after panic")
	}
}

func TestExecute_ParallelUnits(t *testing.T) {
	domains := model.AssessmentDomains
	var mods []modules.Module
	for _, d := range domains {
		mods = append(mods, testutil.OK(d, 2))
	}
	h := newHarness(t, model.KindAssessment, Options{MaxParallel: 4}, mods...)
	id := h.start(t)
	h.execute(t, id)

	run, units := h.detail(t, id)
	if run.Status != model.StatusCompleted || len(units) != len(domains) {
		t.Fatalf("unexpected run: %+v", run)
	}
	p := h.e.GetProgress(id)
	if len(p.Completed) != len(domains) || len(p.ActiveDomains) != 0 || p.Percentage != 100 {
		t.Errorf("unexpected progress: %+v", p)
	}
	findings, _ := h.e.GetFindings(context.Background(), id, store.FindingFilter{})
	if len(findings) != 2*len(domains) {
		t.Errorf("expected %d findings, got %d", 2*len(domains), len(findings))
	}
}

func TestExecute_WrongKindOrMissingRun(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{})
	inv := New(model.KindInventory, h.st, h.factory, nil, h.tracker, h.logger, Options{})
	id := h.start(t, iam)

	if err := inv.Execute(context.Background(), id); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound for a run of another kind, got %v", err)
	}
	if err := h.e.Execute(context.Background(), "missing"); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

// ─── Cancel / progress / reads ─────────────────────────────────────────

func TestCancel_NothingInFlight(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{})
	id := h.start(t, iam)
	if h.e.Cancel(id) {
		t.Error("Cancel of a queued run should report false")
	}
	if h.e.Cancel("unknown") {
		t.Error("Cancel of an unknown run should report false")
	}
	run, _ := h.detail(t, id)
	if run.Status != model.StatusPending {
		t.Errorf("Cancel must not change a queued run, got %s", run.Status)
	}
}

func TestGetProgress_UnknownRunIsPending(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{})
	p := h.e.GetProgress("never-seen")
	if p.Status != model.StatusPending || p.RunID != "never-seen" || p.Pending == nil {
		t.Errorf("unexpected default progress: %+v", p)
	}
}

func TestExecute_RebuildsMissingProgress(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{}, testutil.OK(iam, 1))
	id := h.start(t, iam)
	h.tracker.Forget(id)
	h.execute(t, id)

	p := h.e.GetProgress(id)
	if p.Status != model.StatusCompleted || len(p.Completed) != 1 {
		t.Errorf("expected progress seeded and finished, got %+v", p)
	}
}

func TestSubscribe_ReceivesTerminalEvent(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{}, testutil.OK(iam, 1))
	id := h.start(t, iam)
	events, unsub := h.e.Subscribe(id)
	defer unsub()
	h.execute(t, id)

	var last progress.Event
	for ev := range events {
		last = ev
	}
	if last.Progress.Status != model.StatusCompleted {
		t.Errorf("last event status = %s", last.Progress.Status)
	}
}

func TestGetReportAndDomainDetail(t *testing.T) {
	h := newHarness(t, model.KindAssessment, Options{}, testutil.OK(iam, 2), testutil.Failing(pam, "nope"))
	id := h.start(t, iam, pam)
	ctx := context.Background()

	if _, err := h.e.GetReport(ctx, id); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("expected ErrNotTerminal before execution, got %v", err)
	}
	h.execute(t, id)

	r, err := h.e.GetReport(ctx, id)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if r.OverallScore == nil || *r.OverallScore != 92 || len(r.Domains) != 2 || len(r.Findings) != 2 {
		t.Errorf("unexpected report: %+v", r)
	}

	d, err := h.e.GetDomainDetail(ctx, id, iam)
	if err != nil {
		t.Fatalf("GetDomainDetail: %v", err)
	}
	if d.Score == nil || d.Score.Score != 92 || d.Score.FailedChecks != 1 || len(d.Findings) != 2 {
		t.Errorf("unexpected detail: %+v", d)
	}
	failed, _ := h.e.GetDomainDetail(ctx, id, pam)
	if failed.Score != nil {
		t.Error("failed domain must not be scored")
	}
	if _, err := h.e.GetDomainDetail(ctx, id, dev); !errors.Is(err, ErrDomainNotInRun) {
		t.Errorf("expected ErrDomainNotInRun, got %v", err)
	}
}

// ─── Inventory ─────────────────────────────────────────────────────────

func TestInventory_ArchivesPayloadsAndDrifts(t *testing.T) {
	blobs, err := blobstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	users := &testutil.StubModule{D: model.DomainUsers, Result: modules.Result{Success: true}, Items: 2}
	h := newHarness(t, model.KindInventory, Options{Blobs: blobs}, users)
	ctx := context.Background()

	base := h.start(t, model.DomainUsers)
	h.execute(t, base)

	run, units := h.detail(t, base)
	if run.Status != model.StatusCompleted || run.TotalItems != 2 || run.OverallScore != nil {
		t.Fatalf("unexpected inventory run: %+v", run)
	}
	if units[model.DomainUsers].ItemCount != 2 {
		t.Errorf("unexpected unit: %+v", units[model.DomainUsers])
	}

	detail, err := h.e.GetDomainDetail(ctx, base, model.DomainUsers)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range detail.Items {
		if it.PayloadRef == "" || len(it.Payload) != 0 {
			t.Errorf("payload should be archived: %+v", it)
		}
	}
	if err := h.e.ResolvePayloads(ctx, detail.Items); err != nil {
		t.Fatalf("ResolvePayloads: %v", err)
	}
	if string(detail.Items[0].Payload) != `{"id":"ext-0"}` {
		t.Errorf("unexpected resolved payload: %s", detail.Items[0].Payload)
	}

	users.Items = 3
	head := h.start(t, model.DomainUsers)
	h.execute(t, head)

	d, err := h.e.Drift(ctx, base, head, "")
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if len(d.Added) != 1 || d.Added[0].ExternalID != "ext-2" || d.Unchanged != 2 || len(d.Changed) != 0 {
		t.Errorf("unexpected drift: %+v", d)
	}

	r, err := h.e.GetReport(ctx, head)
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalItems != 3 || r.ItemCounts[model.DomainUsers] != 3 {
		t.Errorf("unexpected inventory report: %+v", r)
	}
}

// ─── Status rules ──────────────────────────────────────────────────────

func TestUnitStatus(t *testing.T) {
	tests := []struct {
		name      string
		res       modules.Result
		cancelled bool
		want      model.RunStatus
	}{
		{"success", modules.Result{Success: true}, false, model.StatusCompleted},
		{"success with warnings", modules.Result{Success: true, Warnings: []string{"w"}}, false, model.StatusCompleted},
		{"success after cancel", modules.Result{Success: true}, true, model.StatusCompleted},
		{"success with error and items", modules.Result{Success: true, Error: "x", ItemCount: 2}, false, model.StatusPartiallyCompleted},
		{"failure with items", modules.Result{Error: "x", ItemCount: 1}, false, model.StatusPartiallyCompleted},
		{"failure without items", modules.Result{Error: "x"}, false, model.StatusFailed},
		{"failure after cancel", modules.Result{Error: "context canceled", ItemCount: 3}, true, model.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unitStatus(tt.res, tt.cancelled); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunStatus(t *testing.T) {
	c, p, f := model.StatusCompleted, model.StatusPartiallyCompleted, model.StatusFailed
	tests := []struct {
		in      []model.RunStatus
		want    model.RunStatus
		wantMsg string
	}{
		{[]model.RunStatus{c, c}, c, ""},
		{[]model.RunStatus{c, f}, p, ""},
		{[]model.RunStatus{p, p}, p, ""},
		{[]model.RunStatus{f, f}, f, "all domains failed"},
		{nil, f, "all domains failed"},
	}
	for _, tt := range tests {
		got, msg := runStatus(tt.in)
		if got != tt.want || msg != tt.wantMsg {
			t.Errorf("runStatus(%v) = %s %q, want %s %q", tt.in, got, msg, tt.want, tt.wantMsg)
		}
	}
}
