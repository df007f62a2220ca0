package model

import "time"

// Progress is the ephemeral, pollable projection of a run. The durable run
// and unit rows stay authoritative.
type Progress struct {
	RunID         string     `json:"run_id"`
	Kind          RunKind    `json:"kind,omitempty"`
	Status        RunStatus  `json:"status"`
	Percentage    int        `json:"percentage"`
	CurrentDomain *Domain    `json:"current_domain,omitempty"`
	ActiveDomains []Domain   `json:"active_domains"`
	Completed     []Domain   `json:"completed_domains"`
	Pending       []Domain   `json:"pending_domains"`
	Failed        []Domain   `json:"failed_domains"`
	Errors        []string   `json:"errors"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PendingProgress is returned when nothing is known about a run yet.
func PendingProgress(runID string) Progress {
	return Progress{
		RunID:         runID,
		Status:        StatusPending,
		ActiveDomains: []Domain{},
		Completed:     []Domain{},
		Pending:       []Domain{},
		Failed:        []Domain{},
		Errors:        []string{},
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Progress) Clone() Progress {
	out := p
	out.ActiveDomains = append([]Domain{}, p.ActiveDomains...)
	out.Completed = append([]Domain{}, p.Completed...)
	out.Pending = append([]Domain{}, p.Pending...)
	out.Failed = append([]Domain{}, p.Failed...)
	out.Errors = append([]string{}, p.Errors...)
	if p.CurrentDomain != nil {
		d := *p.CurrentDomain
		out.CurrentDomain = &d
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
