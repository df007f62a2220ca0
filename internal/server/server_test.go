package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raysh454/kansa/internal/app"
	"github.com/raysh454/kansa/internal/demoprovider"
	"github.com/raysh454/kansa/internal/engine"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/server"
	"github.com/raysh454/kansa/internal/testutil"
)

type testEnv struct {
	srv *server.Server
	app *app.Application
}

// newTestServer wires a full application over a TempDir store. Workers are
// only started when start is true, so queued runs stay Pending otherwise.
func newTestServer(t *testing.T, start bool, mutate func(*app.Config)) *testEnv {
	t.Helper()

	cfg := app.DefaultConfig()
	cfg.StorageRoot = t.TempDir()
	cfg.ReconcileInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	objects, collections := demoprovider.Fixtures(demoprovider.PostureWeak, time.Now()).JSON()
	factory := &testutil.FakeFactory{Client: &testutil.FakeClient{Objects: objects, Collections: collections}}

	a, err := app.NewApplication(context.Background(), cfg, &testutil.DummyLogger{}, app.Deps{Factory: factory})
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	if start {
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	s := server.NewServer(server.Config{ListenAddr: ":0", Logger: &testutil.DummyLogger{}}, a.Orch, a.Metrics)
	return &testEnv{srv: s, app: a}
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

const tenantBody = `{"name":"Contoso","directory_id":"dir-1","client_id":"demo-client","client_secret":"demo-secret"}`

func createTenant(t *testing.T, s http.Handler) model.Tenant {
	t.Helper()
	rec := doJSON(t, s, "POST", "/tenants", tenantBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tenant: %d %s", rec.Code, rec.Body.String())
	}
	var tn model.Tenant
	decodeJSON(t, rec, &tn)
	return tn
}

func startRun(t *testing.T, s http.Handler, path, body string) engine.RunDetail {
	t.Helper()
	rec := doJSON(t, s, "POST", path, body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start run: %d %s", rec.Code, rec.Body.String())
	}
	var d engine.RunDetail
	decodeJSON(t, rec, &d)
	return d
}

func waitStatus(t *testing.T, s http.Handler, path string) engine.RunDetail {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, s, "GET", path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("get run: %d %s", rec.Code, rec.Body.String())
		}
		var d engine.RunDetail
		decodeJSON(t, rec, &d)
		if d.Run.Status.IsTerminal() {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run at %s did not finish", path)
	return engine.RunDetail{}
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)

	rec := doJSON(t, env.srv, "GET", "/tenants", "")

	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

func TestServer_OptionsPreflight(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)

	rec := doJSON(t, env.srv, "OPTIONS", "/assessments/abc/progress", "")

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if m := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(m, "DELETE") {
		t.Errorf("expected DELETE in allowed methods, got %q", m)
	}
}

// ─── Ambient endpoints ─────────────────────────────────────────────────

func TestServer_AmbientEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)

	for _, path := range []string{"/healthz", "/metrics", "/swagger/doc.json"} {
		rec := doJSON(t, env.srv, "GET", path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}

	rec := doJSON(t, env.srv, "GET", "/swagger/doc.json", "")
	if !strings.Contains(rec.Body.String(), "Kansa API") {
		t.Errorf("swagger doc missing title: %s", rec.Body.String())
	}
}

// ─── Tenants ───────────────────────────────────────────────────────────

func TestServer_TenantLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)

	tn := createTenant(t, env.srv)
	if tn.ID == "" || tn.Name != "Contoso" {
		t.Fatalf("unexpected tenant: %+v", tn)
	}

	rec := doJSON(t, env.srv, "GET", "/tenants", "")
	var list []model.Tenant
	decodeJSON(t, rec, &list)
	if len(list) != 1 || list[0].ID != tn.ID {
		t.Fatalf("expected one tenant, got %+v", list)
	}
	if strings.Contains(rec.Body.String(), "demo-secret") {
		t.Error("client secret must not be serialized")
	}

	rec = doJSON(t, env.srv, "GET", "/tenants/"+tn.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get tenant: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, env.srv, "DELETE", "/tenants/"+tn.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete tenant: expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, env.srv, "GET", "/tenants/"+tn.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestServer_CreateTenant_Invalid(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)

	if rec := doJSON(t, env.srv, "POST", "/tenants", "not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected 400, got %d", rec.Code)
	}
	if rec := doJSON(t, env.srv, "POST", "/tenants", `{"name":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing credentials: expected 400, got %d", rec.Code)
	}
}

func TestServer_DeleteTenant_BusyWhileQueued(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)
	tn := createTenant(t, env.srv)

	startRun(t, env.srv, "/tenants/"+tn.ID+"/assessments", "")

	rec := doJSON(t, env.srv, "DELETE", "/tenants/"+tn.ID, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

// ─── Runs ──────────────────────────────────────────────────────────────

func TestServer_StartRun_Queued(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)
	tn := createTenant(t, env.srv)

	d := startRun(t, env.srv, "/tenants/"+tn.ID+"/assessments", `{"domains":["identityandaccess","devices"],"initiated_by":"ops"}`)
	if d.Run.Status != model.StatusPending || d.Run.InitiatedBy != "ops" || len(d.Units) != 2 {
		t.Fatalf("unexpected run: %+v", d)
	}

	rec := doJSON(t, env.srv, "GET", "/assessments/"+d.Run.ID+"/progress", "")
	var p model.Progress
	decodeJSON(t, rec, &p)
	if p.Status != model.StatusPending || len(p.Pending) != 2 {
		t.Errorf("unexpected progress: %+v", p)
	}

	rec = doJSON(t, env.srv, "GET", "/assessments/"+d.Run.ID+"/report", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("report before completion: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, env.srv, "DELETE", "/assessments/"+d.Run.ID, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel: expected 202, got %d", rec.Code)
	}
	var res app.CancelResult
	decodeJSON(t, rec, &res)
	if res.Cancelled {
		t.Error("queued run has nothing in flight to cancel")
	}

	rec = doJSON(t, env.srv, "GET", "/tenants/"+tn.ID+"/runs?kind=assessments", "")
	var runs []model.Run
	decodeJSON(t, rec, &runs)
	if len(runs) != 1 || runs[0].ID != d.Run.ID {
		t.Errorf("expected the queued run listed, got %+v", runs)
	}
}

func TestServer_StartRun_Errors(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, func(c *app.Config) { c.QueueSize = 1 })
	tn := createTenant(t, env.srv)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown domain", "/tenants/" + tn.ID + "/assessments", `{"domains":["Users"]}`, http.StatusBadRequest},
		{"invalid JSON", "/tenants/" + tn.ID + "/inventory", `{`, http.StatusBadRequest},
		{"unknown tenant", "/tenants/missing/inventory", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := doJSON(t, env.srv, "POST", tt.path, tt.body)
		if rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d (%s)", tt.name, tt.want, rec.Code, rec.Body.String())
		}
	}

	startRun(t, env.srv, "/tenants/"+tn.ID+"/inventory", "")
	rec := doJSON(t, env.srv, "POST", "/tenants/"+tn.ID+"/inventory", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("queue full: expected 503, got %d", rec.Code)
	}
}

func TestServer_GetRun_NotFoundAndWrongKind(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)
	tn := createTenant(t, env.srv)
	d := startRun(t, env.srv, "/tenants/"+tn.ID+"/inventory", "")

	if rec := doJSON(t, env.srv, "GET", "/assessments/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing run: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, env.srv, "GET", "/assessments/"+d.Run.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("inventory run under /assessments: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, env.srv, "GET", "/tenants/missing/runs", ""); rec.Code != http.StatusNotFound {
		t.Errorf("runs of missing tenant: expected 404, got %d", rec.Code)
	}
}

func TestServer_Findings_BadFilters(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)

	for _, q := range []string{"domain=Users", "severity=urgent", "noncompliant=maybe"} {
		rec := doJSON(t, env.srv, "GET", "/assessments/any/findings?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

// ─── End to end ────────────────────────────────────────────────────────

func TestServer_AssessmentEndToEnd(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, true, nil)
	tn := createTenant(t, env.srv)

	started := startRun(t, env.srv, "/tenants/"+tn.ID+"/assessments", "")
	d := waitStatus(t, env.srv, "/assessments/"+started.Run.ID)
	if d.Run.Status != model.StatusCompleted || d.Run.OverallScore == nil {
		t.Fatalf("unexpected run: %+v", d.Run)
	}

	rec := doJSON(t, env.srv, "GET", "/assessments/"+d.Run.ID+"/report", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, env.srv, "GET", "/assessments/"+d.Run.ID+"/findings?noncompliant=true", "")
	var findings []model.Finding
	decodeJSON(t, rec, &findings)
	if len(findings) == 0 {
		t.Fatal("weak posture should produce non-compliant findings")
	}
	for i, f := range findings {
		if f.IsCompliant {
			t.Errorf("finding %s is compliant", f.ID)
		}
		if i > 0 && f.Severity < findings[i-1].Severity {
			t.Errorf("findings not ordered by severity at %d", i)
		}
	}

	rec = doJSON(t, env.srv, "GET", "/assessments/"+d.Run.ID+"/domains/identityandaccess", "")
	if rec.Code != http.StatusOK {
		t.Errorf("domain detail: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, env.srv, "GET", "/assessments/"+d.Run.ID+"/domains/nope", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown domain detail: expected 400, got %d", rec.Code)
	}
}

func TestServer_InventoryDrift(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, true, nil)
	tn := createTenant(t, env.srv)

	first := startRun(t, env.srv, "/tenants/"+tn.ID+"/inventory", `{"domains":["Users"]}`)
	waitStatus(t, env.srv, "/inventory/"+first.Run.ID)
	time.Sleep(5 * time.Millisecond)
	second := startRun(t, env.srv, "/tenants/"+tn.ID+"/inventory", `{"domains":["Users"]}`)
	waitStatus(t, env.srv, "/inventory/"+second.Run.ID)

	rec := doJSON(t, env.srv, "GET", "/inventory/"+second.Run.ID+"/drift?base="+first.Run.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("drift: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var rep struct {
		BaseRunID string `json:"base_run_id"`
		Unchanged int    `json:"unchanged"`
	}
	decodeJSON(t, rec, &rep)
	if rep.BaseRunID != first.Run.ID || rep.Unchanged == 0 {
		t.Errorf("unexpected drift report: %+v", rep)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────────

func TestServer_RunWebSocket_StreamsToTerminal(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, true, nil)
	tn := createTenant(t, env.srv)

	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	started := startRun(t, env.srv, "/tenants/"+tn.ID+"/assessments", `{"domains":["identityandaccess"]}`)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runs/" + started.Run.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var last progress.Event
	for {
		var ev progress.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		if ev.RunID != started.Run.ID {
			t.Errorf("event for unexpected run %q", ev.RunID)
		}
		last = ev
	}
	if !last.Progress.Status.IsTerminal() {
		t.Errorf("stream closed before a terminal event: %+v", last.Progress)
	}
}

func TestServer_RunWebSocket_UnknownRun(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, false, nil)

	rec := doJSON(t, env.srv, "GET", "/ws/runs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
