// Package store persists tenants, runs, domain units, findings and inventory
// items. The durable rows are the source of truth for every run; the
// in-memory progress projection is rebuilt from them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/raysh454/kansa/internal/model"
)

var (
	ErrRunNotFound    = errors.New("run not found")
	ErrTenantNotFound = errors.New("tenant not found")
	ErrRunTerminal    = errors.New("run already terminal")
)

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	TenantID string
	Kind     model.RunKind
	Statuses []model.RunStatus
	Limit    int
}

// FindingFilter narrows ListFindings. A zero Severity matches all severities.
type FindingFilter struct {
	Domain       model.Domain
	Severity     model.Severity
	NonCompliant bool
}

// Store is the persistence boundary used by the engine and the API.
type Store interface {
	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	DeleteTenant(ctx context.Context, id string) error

	// CreateRun inserts the run and its units atomically.
	CreateRun(ctx context.Context, run *model.Run, units []model.DomainUnit) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, f RunFilter) ([]model.Run, error)
	ListUnits(ctx context.Context, runID string) ([]model.DomainUnit, error)

	// ClaimRun moves a Pending run to Running. It reports false when the run
	// was not Pending, which makes a second dispatch a no-op.
	ClaimRun(ctx context.Context, runID string, at time.Time) (bool, error)
	// UpdateRun writes the mutable run columns. A terminal run is never
	// rewritten; such calls fail with ErrRunTerminal.
	UpdateRun(ctx context.Context, run *model.Run) error
	UpdateUnit(ctx context.Context, unit *model.DomainUnit) error
	// CompleteUnit writes the unit row and its child rows in one transaction.
	CompleteUnit(ctx context.Context, unit *model.DomainUnit, findings []model.Finding, items []model.InventoryItem) error
	// CancelOpenUnits and FailOpenUnits close every Pending or Running unit
	// of the run and return how many rows changed.
	CancelOpenUnits(ctx context.Context, runID string, at time.Time) (int, error)
	FailOpenUnits(ctx context.Context, runID, msg string, at time.Time) (int, error)

	ListFindings(ctx context.Context, runID string, f FindingFilter) ([]model.Finding, error)
	ListItems(ctx context.Context, runID string, domain model.Domain) ([]model.InventoryItem, error)
	CountItems(ctx context.Context, runID string) (map[model.Domain]int, error)

	DeleteRun(ctx context.Context, id string) error
	// ListStaleRuns returns Running runs not updated since before.
	ListStaleRuns(ctx context.Context, before time.Time) ([]model.Run, error)

	Close() error
}
