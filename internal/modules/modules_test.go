package modules_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
	"github.com/raysh454/kansa/internal/testutil"
)

// ─── Registry ───────────────────────────────────────────────────────────

func TestRegistry_LookupAndOrder(t *testing.T) {
	r := modules.NewRegistry(
		testutil.OK(model.DomainDefender, 1),
		testutil.OK(model.DomainIdentityAndAccess, 1),
	)
	if _, ok := r.Lookup(model.DomainCollaboration); ok {
		t.Fatal("unregistered domain must not resolve")
	}
	m, ok := r.Lookup(model.DomainDefender)
	if !ok || m.Domain() != model.DomainDefender {
		t.Fatalf("lookup failed: %v %v", m, ok)
	}

	replacement := testutil.Failing(model.DomainDefender, "x")
	r.Register(replacement)
	if m, _ := r.Lookup(model.DomainDefender); m != replacement {
		t.Error("Register should replace the existing module")
	}
	got := r.Domains()
	if len(got) != 2 || got[0] != model.DomainDefender || got[1] != model.DomainIdentityAndAccess {
		t.Errorf("unexpected order %v", got)
	}
}

// ─── Collector ──────────────────────────────────────────────────────────

func TestCollector_OptionalErrorsBecomeWarnings(t *testing.T) {
	client := &testutil.FakeClient{
		Collections: map[string]string{"/present": `[{"id":"a"}]`},
		Errors:      map[string]error{"/forbidden": fmt.Errorf("%w: nope", provider.ErrUnauthorized)},
	}
	c := modules.NewCollector(context.Background(), client, model.DomainDefender, "run-1")

	if _, ok := c.List("/forbidden", false); ok {
		t.Fatal("forbidden list should not succeed")
	}
	if _, ok := c.List("/absent", false); ok {
		t.Fatal("absent list should not succeed")
	}
	raw, ok := c.List("/present", true)
	if !ok || len(raw) != 1 {
		t.Fatalf("expected one element, got %v %v", raw, ok)
	}
	c.Evaluate(modules.Check{ID: "T-1", Severity: model.SeverityLow}, true, nil)

	res := c.Result()
	if !res.Success || res.Error != "" {
		t.Fatalf("optional failures must not fail the module: %+v", res)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", res.Warnings)
	}
	if res.ItemCount != 1 || res.Findings[0].RunID != "run-1" || res.Findings[0].Domain != model.DomainDefender {
		t.Errorf("unexpected finding result %+v", res)
	}
	if res.Findings[0].AffectedResources == nil {
		t.Error("affected resources should never be nil")
	}
}

func TestCollector_RequiredErrorFails(t *testing.T) {
	client := &testutil.FakeClient{
		Errors: map[string]error{"/users": errors.New("connection reset")},
	}
	c := modules.NewCollector(context.Background(), client, model.DomainUsers, "run-1")
	c.List("/users", true)
	c.List("/users", true)

	res := c.Result()
	if res.Success {
		t.Fatal("required failure must fail the module")
	}
	if res.Error != "/users: connection reset" {
		t.Errorf("duplicate errors should collapse, got %q", res.Error)
	}
}

func TestCollector_StopsWhenCancelled(t *testing.T) {
	client := &testutil.FakeClient{Collections: map[string]string{"/x": `[]`}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := modules.NewCollector(ctx, client, model.DomainUsers, "run-1")

	if _, ok := c.List("/x", true); ok {
		t.Fatal("list after cancel should not run")
	}
	if client.CallCount() != 0 {
		t.Errorf("no provider calls expected after cancel, got %d", client.CallCount())
	}
	if res := c.Result(); res.Success || res.Error != context.Canceled.Error() {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCollector_RunRecoversPanic(t *testing.T) {
	c := modules.NewCollector(context.Background(), &testutil.FakeClient{}, model.DomainDefender, "run-1")
	res := c.Run(func(c *modules.Collector) {
		c.Evaluate(modules.Check{ID: "T-1", Severity: model.SeverityHigh}, false, []string{"x"})
		var m map[string]int
		m["boom"]++
	})
	if res.Success {
		t.Fatal("panicking body must not report success")
	}
	if !strings.HasPrefix(res.Error, "panic: ") {
		t.Errorf("expected panic recorded as error, got %q", res.Error)
	}
	if res.ItemCount != 1 || len(res.Findings) != 1 {
		t.Errorf("findings gathered before the panic should be kept: %+v", res)
	}
}

func TestDecode_SkipsMalformed(t *testing.T) {
	client := &testutil.FakeClient{Collections: map[string]string{"/mixed": `[{"n":1},"oops",{"n":2}]`}}
	c := modules.NewCollector(context.Background(), client, model.DomainUsers, "r")
	raw, _ := c.List("/mixed", true)

	type row struct{ N int }
	rows := modules.Decode[row](c, "/mixed", raw)
	if len(rows) != 2 || rows[1].N != 2 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if w := c.Result().Warnings; len(w) != 1 {
		t.Errorf("expected one warning, got %v", w)
	}
}
