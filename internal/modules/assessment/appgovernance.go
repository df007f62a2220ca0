package assessment

import (
	"context"
	"strings"
	"time"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

const (
	pathApplications        = "/applications?$select=id,appId,displayName,passwordCredentials,keyCredentials"
	pathPermissionGrants    = "/oauth2PermissionGrants"
	pathAuthorizationPolicy = "/policies/authorizationPolicy"

	credentialExpiryWindow = 30 * 24 * time.Hour
)

var highRiskScopes = []string{
	"Directory.ReadWrite.All",
	"Mail.ReadWrite",
	"Mail.Send",
	"Files.ReadWrite.All",
	"Sites.FullControl.All",
	"RoleManagement.ReadWrite.Directory",
}

var (
	checkExpiredCredentials = modules.Check{
		ID:          "APP-001",
		Title:       "No applications carry expired credentials",
		Severity:    model.SeverityMedium,
		Description: "Expired secrets and certificates clutter registrations and hide which credentials are live.",
		Remediation: "Remove expired secrets and certificates from the listed applications.",
	}
	checkExpiringCredentials = modules.Check{
		ID:          "APP-002",
		Title:       "No application credentials expire within 30 days",
		Severity:    model.SeverityLow,
		Description: "Credentials close to expiry cause outages when not rotated in time.",
		Remediation: "Rotate the listed application credentials.",
	}
	checkRiskyConsent = modules.Check{
		ID:          "APP-003",
		Title:       "No tenant-wide consent to high-risk permissions",
		Severity:    model.SeverityHigh,
		Description: "Admin consent for all principals to write scopes grants broad data access to an application.",
		Remediation: "Review and revoke tenant-wide grants for high-risk scopes.",
	}
	checkUserAppRegistration = modules.Check{
		ID:          "APP-004",
		Title:       "Users cannot register applications",
		Severity:    model.SeverityMedium,
		Description: "Unrestricted app registration lets any user create credentials that outlive their account.",
		Remediation: "Set 'Users can register applications' to No.",
	}
)

type credential struct {
	DisplayName string `json:"displayName"`
	EndDateTime string `json:"endDateTime"`
}

type application struct {
	ID                  string       `json:"id"`
	AppID               string       `json:"appId"`
	DisplayName         string       `json:"displayName"`
	PasswordCredentials []credential `json:"passwordCredentials"`
	KeyCredentials      []credential `json:"keyCredentials"`
}

type permissionGrant struct {
	ClientID    string `json:"clientId"`
	ConsentType string `json:"consentType"`
	Scope       string `json:"scope"`
}

type authorizationPolicy struct {
	AllowInvitesFrom           string `json:"allowInvitesFrom"`
	DefaultUserRolePermissions struct {
		AllowedToCreateApps bool `json:"allowedToCreateApps"`
	} `json:"defaultUserRolePermissions"`
}

// AppGovernanceModule checks application registrations and consent.
type AppGovernanceModule struct{ base }

func (m *AppGovernanceModule) Domain() model.Domain { return model.DomainAppGovernance }

func (m *AppGovernanceModule) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return m.run(ctx, client, m.Domain(), runID, m.evaluate)
}

func (m *AppGovernanceModule) evaluate(c *modules.Collector) {
	if raw, ok := c.List(pathApplications, true); ok {
		now := c.Now()
		var expired, expiring []string
		for _, app := range modules.Decode[application](c, pathApplications, raw) {
			creds := append(append([]credential(nil), app.PasswordCredentials...), app.KeyCredentials...)
			var isExpired, isExpiring bool
			for _, cr := range creds {
				end, ok := parseTime(cr.EndDateTime)
				if !ok {
					continue
				}
				switch {
				case end.Before(now):
					isExpired = true
				case end.Before(now.Add(credentialExpiryWindow)):
					isExpiring = true
				}
			}
			if isExpired {
				expired = append(expired, app.DisplayName)
			}
			if isExpiring {
				expiring = append(expiring, app.DisplayName)
			}
		}
		c.Evaluate(checkExpiredCredentials, len(expired) == 0, expired)
		c.Evaluate(checkExpiringCredentials, len(expiring) == 0, expiring)
	}

	if raw, ok := c.List(pathPermissionGrants, false); ok {
		grants := modules.Decode[permissionGrant](c, pathPermissionGrants, raw)
		var risky []string
		for _, g := range grants {
			if g.ConsentType != "AllPrincipals" {
				continue
			}
			scopes := strings.Fields(g.Scope)
			for _, s := range highRiskScopes {
				if contains(scopes, s) {
					risky = append(risky, g.ClientID+": "+s)
				}
			}
		}
		c.Evaluate(checkRiskyConsent, len(risky) == 0, risky)
	}

	var policy authorizationPolicy
	if c.Get(pathAuthorizationPolicy, &policy, false) {
		c.Evaluate(checkUserAppRegistration, !policy.DefaultUserRolePermissions.AllowedToCreateApps, nil)
	}
}
