package model

import "time"

// RunStatus is shared by runs and their domain units.
type RunStatus string

const (
	StatusPending            RunStatus = "Pending"
	StatusRunning            RunStatus = "Running"
	StatusCompleted          RunStatus = "Completed"
	StatusFailed             RunStatus = "Failed"
	StatusCancelled          RunStatus = "Cancelled"
	StatusPartiallyCompleted RunStatus = "PartiallyCompleted"
)

// IsTerminal reports whether no further transition may leave s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusPartiallyCompleted:
		return true
	}
	return false
}

// Run is one assessment or inventory execution for one tenant.
//
// CompletedAt is set iff Status is terminal. OverallScore is set iff Status
// is Completed or PartiallyCompleted on an assessment run.
type Run struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Kind         RunKind    `json:"kind"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	InitiatedBy  string     `json:"initiated_by,omitempty"`
	OverallScore *int       `json:"overall_score,omitempty"`
	TotalItems   int        `json:"total_items"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// DomainUnit is the result of one module's execution inside a run. On the
// inventory side this is the per-domain snapshot.
type DomainUnit struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	Domain       Domain        `json:"domain"`
	Seq          int           `json:"seq"`
	Status       RunStatus     `json:"status"`
	ItemCount    int           `json:"item_count"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Warnings     []string      `json:"warnings"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Tenant is a directory tenant the system may audit, together with the
// credentials used to build a provider client.
type Tenant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DirectoryID  string    `json:"directory_id"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"-"`
	Endpoint     string    `json:"endpoint,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
