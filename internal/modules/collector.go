package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/provider"
)

// Check describes one named compliance check.
type Check struct {
	ID          string
	Title       string
	Severity    model.Severity
	Description string
	Remediation string
}

// Collector accumulates the output of one Collect call and turns it into a
// Result. It is not safe for concurrent use.
type Collector struct {
	ctx      context.Context
	client   provider.Client
	domain   model.Domain
	runID    string
	start    time.Time
	now      func() time.Time
	findings []model.Finding
	items    []model.InventoryItem
	warnings []string
	errs     []string
}

func NewCollector(ctx context.Context, client provider.Client, domain model.Domain, runID string) *Collector {
	return &Collector{
		ctx:      ctx,
		client:   client,
		domain:   domain,
		runID:    runID,
		start:    time.Now(),
		now:      time.Now,
		warnings: []string{},
	}
}

// SetClock replaces the clock used for timestamps and date checks.
func (c *Collector) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Now is the collection clock, used by checks that reason about dates.
func (c *Collector) Now() time.Time { return c.now() }

// Cancelled records and reports context cancellation.
func (c *Collector) Cancelled() bool {
	if err := c.ctx.Err(); err != nil {
		c.Fail(err)
		return true
	}
	return false
}

func (c *Collector) Warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// Fail records a failure without stopping the module.
func (c *Collector) Fail(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	for _, e := range c.errs {
		if e == msg {
			return
		}
	}
	c.errs = append(c.errs, msg)
}

// List fetches a collection. When required is false, access and not-found
// errors become warnings and the sub-resource is skipped.
func (c *Collector) List(path string, required bool) ([]json.RawMessage, bool) {
	if c.Cancelled() {
		return nil, false
	}
	out, err := c.client.ListCollection(c.ctx, path)
	if err != nil {
		c.fetchErr(path, err, required)
		return nil, false
	}
	return out, true
}

// Get fetches a single object into out, with the same error policy as List.
func (c *Collector) Get(path string, out any, required bool) bool {
	if c.Cancelled() {
		return false
	}
	if err := c.client.GetObject(c.ctx, path, out); err != nil {
		c.fetchErr(path, err, required)
		return false
	}
	return true
}

// Decode unmarshals each raw element into T, skipping malformed ones with a
// warning.
func Decode[T any](c *Collector, path string, raw []json.RawMessage) []T {
	out := make([]T, 0, len(raw))
	bad := 0
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			bad++
			continue
		}
		out = append(out, v)
	}
	if bad > 0 {
		c.Warn("%s: skipped %d malformed element(s)", path, bad)
	}
	return out
}

func (c *Collector) fetchErr(path string, err error, required bool) {
	if c.ctx.Err() != nil {
		c.Fail(c.ctx.Err())
		return
	}
	if !required && (errors.Is(err, provider.ErrUnauthorized) || errors.Is(err, provider.ErrNotFound)) {
		c.Warn("sub-resource %s inaccessible, skipped", path)
		return
	}
	c.Fail(fmt.Errorf("%s: %w", path, err))
}

// Evaluate emits a finding for chk.
func (c *Collector) Evaluate(chk Check, compliant bool, affected []string) {
	if affected == nil {
		affected = []string{}
	}
	c.findings = append(c.findings, model.Finding{
		ID:                uuid.NewString(),
		RunID:             c.runID,
		Domain:            c.domain,
		Severity:          chk.Severity,
		Title:             chk.Title,
		Description:       chk.Description,
		IsCompliant:       compliant,
		Remediation:       chk.Remediation,
		CheckID:           chk.ID,
		AffectedResources: affected,
		CreatedAt:         c.now().UTC(),
	})
}

// AddItem records one inventory object.
func (c *Collector) AddItem(externalID, displayName string, payload json.RawMessage) {
	c.items = append(c.items, model.InventoryItem{
		ID:          uuid.NewString(),
		RunID:       c.runID,
		Domain:      c.domain,
		ExternalID:  externalID,
		DisplayName: displayName,
		Payload:     payload,
		CreatedAt:   c.now().UTC(),
	})
}

// Run calls body and finalizes the collection. A panic in body is recorded
// as a failure; whatever was gathered before it is kept.
func (c *Collector) Run(body func(c *Collector)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.Fail(fmt.Errorf("panic: %v", r))
			res = c.Result()
		}
	}()
	body(c)
	return c.Result()
}

// Result finalizes the collection.
func (c *Collector) Result() Result {
	return Result{
		Success:   len(c.errs) == 0,
		ItemCount: len(c.findings) + len(c.items),
		Duration:  time.Since(c.start),
		Error:     strings.Join(c.errs, "; "),
		Warnings:  c.warnings,
		Findings:  c.findings,
		Items:     c.items,
	}
}
