// Package modules defines the unit of work the engine schedules: one Module
// per domain, each collecting from the provider and reporting a Result.
package modules

import (
	"context"
	"time"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/provider"
)

// Module collects one domain. Collect must not panic or return early on
// provider errors; failures are reported through Result. Implementations
// should check ctx between provider calls.
type Module interface {
	Domain() model.Domain
	Collect(ctx context.Context, client provider.Client, tenantID, runID string) Result
}

// Result is what a module hands back to the engine.
type Result struct {
	Success   bool
	ItemCount int
	Duration  time.Duration
	// Error is set when Success is false or when part of the domain failed.
	Error    string
	Warnings []string
	Findings []model.Finding
	Items    []model.InventoryItem
}

// Failed builds a Result for a module that could not run at all.
func Failed(msg string, d time.Duration) Result {
	return Result{Success: false, Error: msg, Duration: d, Warnings: []string{}}
}
