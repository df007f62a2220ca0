// Package inventory collects directory objects per inventory domain. Every
// domain follows the same shape, so modules are built from a table.
package inventory

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/net/idna"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

// Spec describes where a domain's objects live and how to name them.
type Spec struct {
	Domain model.Domain
	Path   string
	// NameKeys are tried in order for the display name.
	NameKeys []string
	// IDKey defaults to "id".
	IDKey string
	// Normalize optionally rewrites the display name.
	Normalize func(string) string
}

// Specs is the built-in table, in inventory declaration order.
var Specs = []Spec{
	{Domain: model.DomainUsers, Path: "/users?$select=id,displayName,userPrincipalName,accountEnabled,userType", NameKeys: []string{"userPrincipalName", "displayName"}},
	{Domain: model.DomainGroups, Path: "/groups?$select=id,displayName,groupTypes,securityEnabled,mailEnabled,visibility", NameKeys: []string{"displayName"}},
	{Domain: model.DomainDevices, Path: "/deviceManagement/managedDevices", NameKeys: []string{"deviceName"}},
	{Domain: model.DomainApplications, Path: "/applications?$select=id,appId,displayName,signInAudience", NameKeys: []string{"displayName", "appId"}},
	{Domain: model.DomainServicePrincipals, Path: "/servicePrincipals?$select=id,appId,displayName,servicePrincipalType,accountEnabled", NameKeys: []string{"displayName", "appId"}},
	{Domain: model.DomainLicenses, Path: "/subscribedSkus", NameKeys: []string{"skuPartNumber"}, IDKey: "skuId"},
	{Domain: model.DomainDomains, Path: "/domains", NameKeys: []string{"id"}, Normalize: asciiDomain},
	{Domain: model.DomainSites, Path: "/sites?search=*", NameKeys: []string{"displayName", "webUrl"}},
}

// Modules returns one module per entry in Specs.
func Modules() []modules.Module {
	out := make([]modules.Module, 0, len(Specs))
	for _, s := range Specs {
		out = append(out, &Module{Spec: s})
	}
	return out
}

func NewRegistry() *modules.Registry {
	return modules.NewRegistry(Modules()...)
}

// Module collects every object of one collection as an inventory item.
type Module struct {
	Spec Spec
}

func (m *Module) Domain() model.Domain { return m.Spec.Domain }

func (m *Module) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return modules.NewCollector(ctx, client, m.Spec.Domain, runID).Run(m.collect)
}

func (m *Module) collect(c *modules.Collector) {
	raw, ok := c.List(m.Spec.Path, true)
	if !ok {
		return
	}

	idKey := m.Spec.IDKey
	if idKey == "" {
		idKey = "id"
	}
	missing := 0
	for _, r := range raw {
		var obj map[string]any
		if err := json.Unmarshal(r, &obj); err != nil {
			missing++
			continue
		}
		id := stringField(obj, idKey)
		if id == "" {
			missing++
			continue
		}
		name := ""
		for _, k := range m.Spec.NameKeys {
			if name = stringField(obj, k); name != "" {
				break
			}
		}
		if m.Spec.Normalize != nil {
			name = m.Spec.Normalize(name)
		}
		c.AddItem(id, name, r)
	}
	if missing > 0 {
		c.Warn("%s: skipped %d element(s) without %q", m.Spec.Path, missing, idKey)
	}
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func asciiDomain(name string) string {
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return name
	}
	return ascii
}
