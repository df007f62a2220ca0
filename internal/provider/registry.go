package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/raysh454/kansa/internal/logging"
)

// BackendConstructor builds a Factory from options.
type BackendConstructor func(opts Options, logger logging.Logger) (Factory, error)

var (
	mu       sync.RWMutex
	registry = map[string]BackendConstructor{}
)

func init() {
	RegisterDefaultBackends()
}

// RegisterBackend registers a named backend constructor. Names are
// case-insensitive and a later registration replaces an earlier one.
func RegisterBackend(name string, ctor BackendConstructor) {
	if name == "" || ctor == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

// RegisterDefaultBackends registers "http" and its "demo" alias.
func RegisterDefaultBackends() {
	RegisterBackend("http", func(opts Options, logger logging.Logger) (Factory, error) {
		return NewHTTPFactory(opts, logger, nil), nil
	})
	RegisterBackend("demo", func(opts Options, logger logging.Logger) (Factory, error) {
		def := DefaultOptions()
		if opts.BaseURL == "" {
			opts.BaseURL = def.BaseURL
		}
		if len(opts.Scopes) == 0 {
			opts.Scopes = def.Scopes
		}
		return NewHTTPFactory(opts, logger, nil), nil
	})
}

// NewFactory constructs the configured backend, defaulting to "http".
func NewFactory(opts Options, logger logging.Logger) (Factory, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = "http"
	}

	mu.RLock()
	ctor, ok := registry[backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider backend %q not registered: available backends=%v", backend, ListBackends())
	}

	f, err := ctor(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("construct provider backend %q: %w", backend, err)
	}
	if f == nil {
		return nil, errors.New("provider constructor returned nil")
	}
	return f, nil
}

// ListBackends returns the registered backend names, sorted.
func ListBackends() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
