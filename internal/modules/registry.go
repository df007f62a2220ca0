package modules

import (
	"sync"

	"github.com/raysh454/kansa/internal/model"
)

// Registry maps domains to their modules. Lookups happen per run, so a
// registry may be changed while the service is up.
type Registry struct {
	mu    sync.RWMutex
	mods  map[model.Domain]Module
	order []model.Domain
}

func NewRegistry(mods ...Module) *Registry {
	r := &Registry{mods: make(map[model.Domain]Module)}
	for _, m := range mods {
		r.Register(m)
	}
	return r
}

// Register adds m, replacing any module already registered for its domain.
func (r *Registry) Register(m Module) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d := m.Domain()
	if _, ok := r.mods[d]; !ok {
		r.order = append(r.order, d)
	}
	r.mods[d] = m
}

func (r *Registry) Lookup(d model.Domain) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mods[d]
	return m, ok
}

// Domains returns registered domains in registration order.
func (r *Registry) Domains() []model.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Domain(nil), r.order...)
}
