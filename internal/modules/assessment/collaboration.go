package assessment

import (
	"context"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

const (
	pathSharePointSettings = "/admin/sharepoint/settings"
	pathUnifiedGroups      = "/groups?$filter=groupTypes/any(c:c eq 'Unified')"
)

var (
	checkAnonymousSharing = modules.Check{
		ID:          "COL-001",
		Title:       "Anonymous sharing links are disabled",
		Severity:    model.SeverityHigh,
		Description: "Anyone links grant access to files without authentication.",
		Remediation: "Limit external sharing to new and existing guests.",
	}
	checkGuestInvites = modules.Check{
		ID:          "COL-002",
		Title:       "Guest invitations are restricted",
		Severity:    model.SeverityMedium,
		Description: "When everyone can invite guests, external access is granted without review.",
		Remediation: "Restrict guest invitations to admins and users in the Guest Inviter role.",
	}
	checkPublicGroups = modules.Check{
		ID:          "COL-003",
		Title:       "No public Microsoft 365 groups",
		Severity:    model.SeverityLow,
		Description: "Anyone in the organization can join public groups and read their content.",
		Remediation: "Make the listed groups private unless they are intended for open membership.",
	}
)

type sharePointSettings struct {
	SharingCapability string `json:"sharingCapability"`
}

type unifiedGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Visibility  string `json:"visibility"`
}

// CollaborationModule checks external sharing and group exposure.
type CollaborationModule struct{ base }

func (m *CollaborationModule) Domain() model.Domain { return model.DomainCollaboration }

func (m *CollaborationModule) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return m.run(ctx, client, m.Domain(), runID, m.evaluate)
}

func (m *CollaborationModule) evaluate(c *modules.Collector) {
	var settings sharePointSettings
	if c.Get(pathSharePointSettings, &settings, false) {
		c.Evaluate(checkAnonymousSharing, settings.SharingCapability != "externalUserAndGuestSharing", nil)
	}

	var policy authorizationPolicy
	if c.Get(pathAuthorizationPolicy, &policy, false) {
		restricted := policy.AllowInvitesFrom == "adminsAndGuestInviters" || policy.AllowInvitesFrom == "none"
		c.Evaluate(checkGuestInvites, restricted, nil)
	}

	raw, ok := c.List(pathUnifiedGroups, true)
	if !ok {
		return
	}
	groups := modules.Decode[unifiedGroup](c, pathUnifiedGroups, raw)
	var public []unifiedGroup
	for _, g := range groups {
		if g.Visibility == "Public" {
			public = append(public, g)
		}
	}
	c.Evaluate(checkPublicGroups, len(public) == 0, names(public, func(g unifiedGroup) string { return g.DisplayName }))
}
