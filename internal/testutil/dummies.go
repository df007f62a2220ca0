// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// Logged reports whether msg was recorded at any level.
func (l *DummyLogger) Logged(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, list := range [][]string{l.Debugs, l.Infos, l.Warns, l.Errors} {
		for _, m := range list {
			if m == msg {
				return true
			}
		}
	}
	return false
}

// ─── Provider client ───────────────────────────────────────────────────

// FakeClient implements provider.Client over in-memory JSON fixtures.
// Objects maps a path to a JSON document; Collections maps a path to a JSON
// array. Paths are matched exactly first, then without their query string.
// Errors forces an error for a path.
type FakeClient struct {
	Objects     map[string]string
	Collections map[string]string
	Errors      map[string]error
	Delay       time.Duration

	mu     sync.Mutex
	Calls  []string
	Closed bool
}

func (f *FakeClient) lookup(m map[string]string, path string) (string, bool) {
	if v, ok := m[path]; ok {
		return v, true
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		v, ok := m[path[:i]]
		return v, ok
	}
	return "", false
}

func (f *FakeClient) before(ctx context.Context, path string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, path)
	f.mu.Unlock()
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := f.Errors[path]; ok {
		return err
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		if err, ok := f.Errors[path[:i]]; ok {
			return err
		}
	}
	return nil
}

func (f *FakeClient) GetObject(ctx context.Context, path string, out any) error {
	if err := f.before(ctx, path); err != nil {
		return err
	}
	doc, ok := f.lookup(f.Objects, path)
	if !ok {
		return fmt.Errorf("%w: %s", provider.ErrNotFound, path)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(doc), out)
}

func (f *FakeClient) ListCollection(ctx context.Context, path string) ([]json.RawMessage, error) {
	if err := f.before(ctx, path); err != nil {
		return nil, err
	}
	doc, ok := f.lookup(f.Collections, path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, path)
	}
	var out []json.RawMessage
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FakeClient) TestConnection(ctx context.Context) error {
	return f.before(ctx, "/organization")
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// CallCount returns how many requests were made.
func (f *FakeClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// FakeFactory implements provider.Factory. It hands out Client (a fresh
// FakeClient when nil) or fails with Err.
type FakeFactory struct {
	Client provider.Client
	Err    error

	mu      sync.Mutex
	Created []provider.Credentials
}

func (f *FakeFactory) CreateClient(_ context.Context, creds provider.Credentials) (provider.Client, error) {
	f.mu.Lock()
	f.Created = append(f.Created, creds)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Client != nil {
		return f.Client, nil
	}
	return &FakeClient{}, nil
}

// CreatedCount returns how many clients were requested.
func (f *FakeFactory) CreatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created)
}

// ─── Modules ───────────────────────────────────────────────────────────

// StubModule implements modules.Module with a scripted Result.
//
// With Block set, Collect waits for ctx cancellation (or Release) before
// returning. With Panic set, Collect panics with that value.
type StubModule struct {
	D        model.Domain
	Result   modules.Result
	Findings int
	Items    int
	Block    bool
	Release  chan struct{}
	Started  chan struct{}
	Panic    any

	mu    sync.Mutex
	calls int
}

func (s *StubModule) Domain() model.Domain { return s.D }

func (s *StubModule) Collect(ctx context.Context, _ provider.Client, _ string, runID string) modules.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.Started != nil {
		select {
		case s.Started <- struct{}{}:
		default:
		}
	}
	if s.Panic != nil {
		panic(s.Panic)
	}
	if s.Block {
		select {
		case <-ctx.Done():
			return modules.Result{Success: false, Error: ctx.Err().Error(), Warnings: []string{}}
		case <-s.Release:
		}
	}

	res := s.Result
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	for i := 0; i < s.Findings; i++ {
		res.Findings = append(res.Findings, model.Finding{
			ID:                fmt.Sprintf("%s-%s-f%d", runID, s.D, i),
			RunID:             runID,
			Domain:            s.D,
			Severity:          model.SeverityHigh,
			Title:             fmt.Sprintf("%s check %d", s.D, i),
			IsCompliant:       i%2 == 0,
			Remediation:       "fix " + string(s.D),
			CheckID:           fmt.Sprintf("STUB-%03d", i),
			AffectedResources: []string{},
			CreatedAt:         time.Now().UTC(),
		})
	}
	for i := 0; i < s.Items; i++ {
		res.Items = append(res.Items, model.InventoryItem{
			ID:          fmt.Sprintf("%s-%s-i%d", runID, s.D, i),
			RunID:       runID,
			Domain:      s.D,
			ExternalID:  fmt.Sprintf("ext-%d", i),
			DisplayName: fmt.Sprintf("object %d", i),
			Payload:     json.RawMessage(fmt.Sprintf(`{"id":"ext-%d"}`, i)),
			CreatedAt:   time.Now().UTC(),
		})
	}
	if res.ItemCount == 0 {
		res.ItemCount = len(res.Findings) + len(res.Items)
	}
	return res
}

// Calls returns how many times Collect ran.
func (s *StubModule) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// OK returns a stub that succeeds with n findings.
func OK(d model.Domain, n int) *StubModule {
	return &StubModule{D: d, Result: modules.Result{Success: true}, Findings: n}
}

// Failing returns a stub that reports failure with msg.
func Failing(d model.Domain, msg string) *StubModule {
	return &StubModule{D: d, Result: modules.Result{Success: false, Error: msg}}
}
