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
	pathSecurityDefaults  = "/policies/identitySecurityDefaultsEnforcementPolicy"
	pathConditionalAccess = "/identity/conditionalAccess/policies"
	pathRegistration      = "/reports/authenticationMethods/userRegistrationDetails"
	pathUsersSignIn       = "/users?$select=id,userPrincipalName,accountEnabled,signInActivity"

	staleAccountAge = 90 * 24 * time.Hour
)

var (
	checkMFARequired = modules.Check{
		ID:          "IAM-001",
		Title:       "Multi-factor authentication is enforced for all users",
		Severity:    model.SeverityCritical,
		Description: "Either security defaults or an enabled conditional access policy must require MFA for all users.",
		Remediation: "Enable security defaults or create a conditional access policy requiring MFA for all users.",
	}
	checkLegacyAuth = modules.Check{
		ID:          "IAM-002",
		Title:       "Legacy authentication is blocked",
		Severity:    model.SeverityHigh,
		Description: "Legacy protocols cannot perform MFA and should be blocked by conditional access.",
		Remediation: "Create a conditional access policy that blocks Exchange ActiveSync and other legacy clients.",
	}
	checkMFARegistered = modules.Check{
		ID:          "IAM-003",
		Title:       "All users are registered for MFA",
		Severity:    model.SeverityHigh,
		Description: "Users without a registered strong authentication method cannot satisfy MFA prompts.",
		Remediation: "Run an MFA registration campaign for the listed users.",
	}
	checkStaleAccounts = modules.Check{
		ID:          "IAM-004",
		Title:       "No enabled accounts are inactive for more than 90 days",
		Severity:    model.SeverityMedium,
		Description: "Enabled accounts without recent sign-ins widen the attack surface.",
		Remediation: "Disable or remove accounts that have not signed in for 90 days.",
	}
)

type conditionalAccessPolicy struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Conditions  struct {
		Users struct {
			IncludeUsers []string `json:"includeUsers"`
		} `json:"users"`
		ClientAppTypes []string `json:"clientAppTypes"`
	} `json:"conditions"`
	GrantControls struct {
		BuiltInControls []string `json:"builtInControls"`
	} `json:"grantControls"`
}

func (p conditionalAccessPolicy) enabled() bool { return p.State == "enabled" }

type registrationDetail struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	IsMfaRegistered   bool   `json:"isMfaRegistered"`
}

type signInUser struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	AccountEnabled    bool   `json:"accountEnabled"`
	SignInActivity    *struct {
		LastSignInDateTime string `json:"lastSignInDateTime"`
	} `json:"signInActivity"`
}

// IdentityModule checks authentication posture.
type IdentityModule struct{ base }

func (m *IdentityModule) Domain() model.Domain { return model.DomainIdentityAndAccess }

func (m *IdentityModule) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return m.run(ctx, client, m.Domain(), runID, m.evaluate)
}

func (m *IdentityModule) evaluate(c *modules.Collector) {
	var defaults struct {
		IsEnabled bool `json:"isEnabled"`
	}
	haveDefaults := c.Get(pathSecurityDefaults, &defaults, false)

	raw, havePolicies := c.List(pathConditionalAccess, false)
	policies := modules.Decode[conditionalAccessPolicy](c, pathConditionalAccess, raw)

	if haveDefaults || havePolicies {
		mfa := defaults.IsEnabled
		legacy := defaults.IsEnabled
		for _, p := range policies {
			if !p.enabled() {
				continue
			}
			if contains(p.Conditions.Users.IncludeUsers, "All") && contains(p.GrantControls.BuiltInControls, "mfa") {
				mfa = true
			}
			if contains(p.GrantControls.BuiltInControls, "block") &&
				(contains(p.Conditions.ClientAppTypes, "exchangeActiveSync") || contains(p.Conditions.ClientAppTypes, "other")) {
				legacy = true
			}
		}
		c.Evaluate(checkMFARequired, mfa, nil)
		c.Evaluate(checkLegacyAuth, legacy, nil)
	}

	if raw, ok := c.List(pathRegistration, false); ok {
		details := modules.Decode[registrationDetail](c, pathRegistration, raw)
		var missing []string
		for _, d := range details {
			if !d.IsMfaRegistered {
				missing = append(missing, d.UserPrincipalName)
			}
		}
		c.Evaluate(checkMFARegistered, len(missing) == 0, missing)
	}

	raw, ok := c.List(pathUsersSignIn, true)
	if !ok {
		return
	}
	users := modules.Decode[signInUser](c, pathUsersSignIn, raw)
	cutoff := c.Now().Add(-staleAccountAge)
	var stale []string
	for _, u := range users {
		if !u.AccountEnabled || u.SignInActivity == nil {
			continue
		}
		last, ok := parseTime(u.SignInActivity.LastSignInDateTime)
		if ok && last.Before(cutoff) {
			stale = append(stale, strings.ToLower(u.UserPrincipalName))
		}
	}
	c.Evaluate(checkStaleAccounts, len(stale) == 0, stale)
}
