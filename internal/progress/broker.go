package progress

import (
	"sync"

	"github.com/raysh454/kansa/internal/model"
)

// Event is published on every progress change of a run.
type Event struct {
	RunID    string         `json:"run_id"`
	Progress model.Progress `json:"progress"`
}

// Broker fans progress events out to per-run subscribers. Sends never block:
// a subscriber whose buffer is full misses that event. Subscriber channels
// are closed once a terminal event has been delivered.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

// NewBroker creates a Broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{subs: make(map[string]map[chan Event]struct{}), buffer: buffer}
}

// Subscribe registers for events of runID. The returned func unsubscribes
// and is safe to call more than once.
func (b *Broker) Subscribe(runID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	set, ok := b.subs[runID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[runID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(runID, ch) })
	}
}

func (b *Broker) remove(runID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[runID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, runID)
	}
}

// Publish delivers ev to every subscriber of ev.RunID.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[ev.RunID]
	for ch := range set {
		select {
		case ch <- ev:
		default:
		}
	}
	if ev.Progress.Status.IsTerminal() {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, ev.RunID)
	}
}

// Subscribers returns the number of live subscriptions for runID.
func (b *Broker) Subscribers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}
