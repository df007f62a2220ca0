package progress

import (
	"context"
	"fmt"

	"github.com/raysh454/kansa/internal/model"
)

// RunReader is the slice of the store Rehydrate needs.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListUnits(ctx context.Context, runID string) ([]model.DomainUnit, error)
}

// Project derives a Progress from durable run and unit rows.
func Project(run *model.Run, units []model.DomainUnit) model.Progress {
	p := model.PendingProgress(run.ID)
	p.Kind = run.Kind
	p.Status = run.Status
	p.StartedAt = run.StartedAt
	p.UpdatedAt = run.UpdatedAt
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		p.CompletedAt = &t
	}

	finished := 0
	for _, u := range units {
		switch u.Status {
		case model.StatusPending:
			p.Pending = append(p.Pending, u.Domain)
		case model.StatusRunning:
			p.ActiveDomains = append(p.ActiveDomains, u.Domain)
		case model.StatusCompleted, model.StatusPartiallyCompleted:
			p.Completed = append(p.Completed, u.Domain)
			finished++
		case model.StatusFailed:
			p.Failed = append(p.Failed, u.Domain)
			finished++
		case model.StatusCancelled:
			finished++
		}
		if u.ErrorMessage != "" {
			p.Errors = append(p.Errors, fmt.Sprintf("%s: %s", u.Domain, u.ErrorMessage))
		}
	}
	if len(p.ActiveDomains) > 0 {
		d := p.ActiveDomains[0]
		p.CurrentDomain = &d
	}

	switch run.Status {
	case model.StatusCompleted, model.StatusPartiallyCompleted, model.StatusFailed:
		p.Percentage = 100
	default:
		p.Percentage = Percentage(finished, len(units))
		if len(units) == 0 && run.Status == model.StatusPending {
			p.Percentage = 0
		}
	}
	return p
}

// Rehydrate rebuilds the tracker entry for runID from the store and
// returns it.
func (t *Tracker) Rehydrate(ctx context.Context, store RunReader, runID string) (model.Progress, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return model.Progress{}, err
	}
	units, err := store.ListUnits(ctx, runID)
	if err != nil {
		return model.Progress{}, err
	}
	return t.Set(Project(run, units)), nil
}
