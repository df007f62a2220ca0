// Package progress keeps the in-memory, run-keyed progress projection that
// pollers and the websocket stream read. It is a cache: the store stays
// authoritative and Rehydrate rebuilds entries from it.
package progress

import (
	"sync"
	"time"

	"github.com/raysh454/kansa/internal/model"
)

// Tracker is safe for concurrent use by engines and readers.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*model.Progress
	broker  *Broker
	now     func() time.Time
}

// NewTracker creates a Tracker publishing to broker. A nil broker disables
// event publishing.
func NewTracker(broker *Broker) *Tracker {
	return &Tracker{
		entries: make(map[string]*model.Progress),
		broker:  broker,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source (tests).
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Broker returns the event broker, possibly nil.
func (t *Tracker) Broker() *Broker { return t.broker }

// Init registers a Pending entry for a freshly started run.
func (t *Tracker) Init(runID string, kind model.RunKind, domains []model.Domain, startedAt time.Time) model.Progress {
	p := model.PendingProgress(runID)
	p.Kind = kind
	p.Pending = append(p.Pending, domains...)
	p.StartedAt = startedAt
	p.UpdatedAt = startedAt
	return t.Set(p)
}

// Set stores p as the entry for p.RunID and publishes it.
func (t *Tracker) Set(p model.Progress) model.Progress {
	snap := p.Clone()
	t.mu.Lock()
	stored := snap.Clone()
	t.entries[p.RunID] = &stored
	t.publish(snap)
	t.mu.Unlock()
	return snap
}

// Update applies fn to the entry for runID under the tracker lock and
// publishes the result. It reports false when no entry exists.
func (t *Tracker) Update(runID string, fn func(p *model.Progress)) (model.Progress, bool) {
	t.mu.Lock()
	p, ok := t.entries[runID]
	if !ok {
		t.mu.Unlock()
		return model.Progress{}, false
	}
	fn(p)
	p.UpdatedAt = t.now()
	snap := p.Clone()
	t.publish(snap)
	t.mu.Unlock()
	return snap, true
}

// Get returns a copy of the entry for runID.
func (t *Tracker) Get(runID string) (model.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[runID]
	if !ok {
		return model.Progress{}, false
	}
	return p.Clone(), true
}

func (t *Tracker) Forget(runID string) {
	t.mu.Lock()
	delete(t.entries, runID)
	t.mu.Unlock()
}

// Len returns the number of tracked runs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Prune drops terminal entries last updated more than olderThan ago and
// returns how many were removed.
func (t *Tracker) Prune(olderThan time.Duration) int {
	cutoff := t.now().Add(-olderThan)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, p := range t.entries {
		if p.Status.IsTerminal() && p.UpdatedAt.Before(cutoff) {
			delete(t.entries, id)
			n++
		}
	}
	return n
}

// publish runs under t.mu so subscribers observe changes in order.
func (t *Tracker) publish(p model.Progress) {
	if t.broker == nil {
		return
	}
	t.broker.Publish(Event{RunID: p.RunID, Progress: p})
}

// Percentage is finished*100/total, with an empty run counting as done.
func Percentage(finished, total int) int {
	if total <= 0 {
		return 100
	}
	return finished * 100 / total
}

// Remove returns list without d, preserving order.
func Remove(list []model.Domain, d model.Domain) []model.Domain {
	out := list[:0]
	for _, x := range list {
		if x != d {
			out = append(out, x)
		}
	}
	return out
}
