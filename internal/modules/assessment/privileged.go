package assessment

import (
	"context"
	"fmt"
	"sort"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

const (
	pathDirectoryRoles    = "/directoryRoles?$expand=members"
	pathEligibleSchedules = "/roleManagement/directory/roleEligibilitySchedules"
	globalAdminTemplateID = "62e90394-69f5-4237-9190-012177145e10"
	servicePrincipalType  = "#microsoft.graph.servicePrincipal"
	minGlobalAdmins       = 2
	maxGlobalAdmins       = 4
)

var (
	checkGlobalAdminCount = modules.Check{
		ID:          "PAM-001",
		Title:       "Global Administrator count is between 2 and 4",
		Severity:    model.SeverityHigh,
		Description: "Too many global administrators increase exposure; fewer than two leaves no break-glass path.",
		Remediation: "Keep two to four Global Administrators and delegate with least-privileged roles.",
	}
	checkAdminMFA = modules.Check{
		ID:          "PAM-002",
		Title:       "Privileged role holders are registered for MFA",
		Severity:    model.SeverityCritical,
		Description: "Every member of a directory role must have a strong authentication method registered.",
		Remediation: "Require MFA registration for all administrators before granting roles.",
	}
	checkPrivilegedApps = modules.Check{
		ID:          "PAM-003",
		Title:       "No service principals hold privileged directory roles",
		Severity:    model.SeverityMedium,
		Description: "Applications with directory roles act with administrator rights and no interactive sign-in.",
		Remediation: "Replace directory role assignments for applications with scoped application permissions.",
	}
	checkJustInTime = modules.Check{
		ID:          "PAM-004",
		Title:       "Just-in-time role activation is in use",
		Severity:    model.SeverityMedium,
		Description: "Eligible assignments let administrators activate roles only when needed.",
		Remediation: "Convert permanent role assignments to eligible assignments with activation approval.",
	}
)

type directoryRole struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	RoleTemplateID string `json:"roleTemplateId"`
	Members        []struct {
		ID                string `json:"id"`
		ODataType         string `json:"@odata.type"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	} `json:"members"`
}

// PrivilegedAccessModule checks who holds administrative roles and how.
type PrivilegedAccessModule struct{ base }

func (m *PrivilegedAccessModule) Domain() model.Domain { return model.DomainPrivilegedAccess }

func (m *PrivilegedAccessModule) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return m.run(ctx, client, m.Domain(), runID, m.evaluate)
}

func (m *PrivilegedAccessModule) evaluate(c *modules.Collector) {
	raw, ok := c.List(pathDirectoryRoles, true)
	if !ok {
		return
	}
	roles := modules.Decode[directoryRole](c, pathDirectoryRoles, raw)

	admins := map[string]struct{}{}
	var globalAdmins, apps []string
	for _, r := range roles {
		for _, mem := range r.Members {
			if mem.ODataType == servicePrincipalType {
				apps = append(apps, fmt.Sprintf("%s (%s)", mem.DisplayName, r.DisplayName))
				continue
			}
			admins[mem.ID] = struct{}{}
			if r.RoleTemplateID == globalAdminTemplateID {
				globalAdmins = append(globalAdmins, mem.UserPrincipalName)
			}
		}
	}

	count := len(globalAdmins)
	c.Evaluate(checkGlobalAdminCount, count >= minGlobalAdmins && count <= maxGlobalAdmins, globalAdmins)
	c.Evaluate(checkPrivilegedApps, len(apps) == 0, apps)

	if raw, ok := c.List(pathRegistration, false); ok {
		var missing []string
		for _, d := range modules.Decode[registrationDetail](c, pathRegistration, raw) {
			if _, isAdmin := admins[d.ID]; isAdmin && !d.IsMfaRegistered {
				missing = append(missing, d.UserPrincipalName)
			}
		}
		sort.Strings(missing)
		c.Evaluate(checkAdminMFA, len(missing) == 0, missing)
	}

	if raw, ok := c.List(pathEligibleSchedules, false); ok {
		c.Evaluate(checkJustInTime, len(raw) > 0, nil)
	}
}
