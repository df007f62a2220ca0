// Package assessment holds one compliance module per assessment domain.
// Each module reads provider collections and evaluates named checks.
package assessment

import (
	"context"
	"sort"
	"time"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

// Modules returns every assessment module in domain declaration order.
func Modules() []modules.Module {
	return []modules.Module{
		&IdentityModule{},
		&PrivilegedAccessModule{},
		&DeviceModule{},
		&ExchangeModule{},
		&DataProtectionModule{},
		&DefenderModule{},
		&AppGovernanceModule{},
		&CollaborationModule{},
	}
}

// NewRegistry returns a registry populated with all assessment modules.
func NewRegistry() *modules.Registry {
	return modules.NewRegistry(Modules()...)
}

// evaluator is the per-domain body shared by every module.
type evaluator func(c *modules.Collector)

type base struct {
	// Clock overrides time.Now for date based checks.
	Clock func() time.Time
}

func (b base) run(ctx context.Context, client provider.Client, domain model.Domain, runID string, eval evaluator) modules.Result {
	c := modules.NewCollector(ctx, client, domain, runID)
	c.SetClock(b.Clock)
	return c.Run(eval)
}

// names extracts a display value per element.
func names[T any](list []T, f func(T) string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, f(v))
	}
	return out
}

func sorted(list []string) []string {
	out := append([]string(nil), list...)
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
