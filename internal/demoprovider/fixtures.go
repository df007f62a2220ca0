package demoprovider

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Posture selects which canned tenant the provider serves.
type Posture string

const (
	PostureHardened Posture = "hardened"
	PostureWeak     Posture = "weak"
)

func ParsePosture(s string) (Posture, error) {
	switch Posture(strings.ToLower(strings.TrimSpace(s))) {
	case PostureHardened:
		return PostureHardened, nil
	case PostureWeak:
		return PostureWeak, nil
	}
	return "", fmt.Errorf("unknown posture %q", s)
}

// Dataset holds the canned API responses keyed by path without query string.
type Dataset struct {
	Objects     map[string]any
	Collections map[string][]any
}

// JSON renders the dataset in the shape testutil.FakeClient expects.
func (d Dataset) JSON() (objects, collections map[string]string) {
	objects = make(map[string]string, len(d.Objects))
	for k, v := range d.Objects {
		b, _ := json.Marshal(v)
		objects[k] = string(b)
	}
	collections = make(map[string]string, len(d.Collections))
	for k, v := range d.Collections {
		b, _ := json.Marshal(v)
		collections[k] = string(b)
	}
	return objects, collections
}

type obj = map[string]any

const globalAdminTemplate = "62e90394-69f5-4237-9190-012177145e10"

// Fixtures builds the dataset for p. Dates are relative to now so date based
// checks stay stable.
func Fixtures(p Posture, now time.Time) Dataset {
	if p == PostureWeak {
		return weak(now)
	}
	return hardened(now)
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func user(id, upn string, enabled bool, lastSignIn time.Time) obj {
	return obj{
		"id":                id,
		"displayName":       strings.Split(upn, "@")[0],
		"userPrincipalName": upn,
		"accountEnabled":    enabled,
		"userType":          "Member",
		"signInActivity":    obj{"lastSignInDateTime": ts(lastSignIn)},
	}
}

func member(id, upn string) obj {
	return obj{"id": id, "@odata.type": "#microsoft.graph.user", "userPrincipalName": upn, "displayName": upn}
}

func registration(id, upn string, mfa bool) obj {
	return obj{"id": id, "userPrincipalName": upn, "isMfaRegistered": mfa}
}

func common(now time.Time) Dataset {
	return Dataset{
		Objects: map[string]any{
			"/organization": obj{"id": "org-1", "displayName": "Contoso Demo"},
		},
		Collections: map[string][]any{
			"/servicePrincipals": {
				obj{"id": "sp-1", "appId": "00000003-0000-0000-c000-000000000000", "displayName": "Directory API", "servicePrincipalType": "Application", "accountEnabled": true},
				obj{"id": "sp-2", "appId": "app-payroll", "displayName": "Payroll Connector", "servicePrincipalType": "Application", "accountEnabled": true},
			},
			"/subscribedSkus": {
				obj{"skuId": "sku-e5", "skuPartNumber": "ENTERPRISEPREMIUM", "consumedUnits": 42},
				obj{"skuId": "sku-p2", "skuPartNumber": "AAD_PREMIUM_P2", "consumedUnits": 42},
			},
			"/sites": {
				obj{"id": "site-1", "displayName": "Intranet", "webUrl": "https://contoso.example/sites/intranet"},
				obj{"id": "site-2", "displayName": "Finance", "webUrl": "https://contoso.example/sites/finance"},
			},
		},
	}
}

func hardened(now time.Time) Dataset {
	d := common(now)
	recent := now.Add(-24 * time.Hour)

	d.Objects["/policies/identitySecurityDefaultsEnforcementPolicy"] = obj{"isEnabled": false}
	d.Objects["/policies/authorizationPolicy"] = obj{
		"allowInvitesFrom":           "adminsAndGuestInviters",
		"defaultUserRolePermissions": obj{"allowedToCreateApps": false},
	}
	d.Objects["/admin/sharepoint/settings"] = obj{"sharingCapability": "externalUserSharingOnly"}

	d.Collections["/identity/conditionalAccess/policies"] = []any{
		obj{
			"id": "ca-mfa", "displayName": "Require MFA for all users", "state": "enabled",
			"conditions":    obj{"users": obj{"includeUsers": []string{"All"}}, "clientAppTypes": []string{"all"}},
			"grantControls": obj{"builtInControls": []string{"mfa"}},
		},
		obj{
			"id": "ca-legacy", "displayName": "Block legacy authentication", "state": "enabled",
			"conditions":    obj{"users": obj{"includeUsers": []string{"All"}}, "clientAppTypes": []string{"exchangeActiveSync", "other"}},
			"grantControls": obj{"builtInControls": []string{"block"}},
		},
	}
	d.Collections["/users"] = []any{
		user("u-1", "alice@contoso.example", true, recent),
		user("u-2", "bob@contoso.example", true, recent),
		user("u-3", "admin1@contoso.example", true, recent),
		user("u-4", "admin2@contoso.example", true, recent),
		user("u-5", "former@contoso.example", false, now.Add(-400*24*time.Hour)),
	}
	d.Collections["/reports/authenticationMethods/userRegistrationDetails"] = []any{
		registration("u-1", "alice@contoso.example", true),
		registration("u-2", "bob@contoso.example", true),
		registration("u-3", "admin1@contoso.example", true),
		registration("u-4", "admin2@contoso.example", true),
	}
	d.Collections["/directoryRoles"] = []any{
		obj{"id": "role-ga", "displayName": "Global Administrator", "roleTemplateId": globalAdminTemplate,
			"members": []any{member("u-3", "admin1@contoso.example"), member("u-4", "admin2@contoso.example")}},
	}
	d.Collections["/roleManagement/directory/roleEligibilitySchedules"] = []any{
		obj{"id": "elig-1", "principalId": "u-1", "roleDefinitionId": "helpdesk"},
	}
	d.Collections["/deviceManagement/deviceCompliancePolicies"] = []any{
		obj{"id": "cp-win", "displayName": "Windows baseline"},
	}
	d.Collections["/deviceManagement/managedDevices"] = []any{
		obj{"id": "dev-1", "deviceName": "LAPTOP-01", "complianceState": "compliant", "isEncrypted": true, "operatingSystem": "Windows"},
		obj{"id": "dev-2", "deviceName": "MBP-02", "complianceState": "compliant", "isEncrypted": true, "operatingSystem": "macOS"},
	}
	d.Collections["/domains"] = []any{
		obj{"id": "contoso.example", "isVerified": true, "supportedServices": []string{"Email", "OfficeCommunicationsOnline"}},
		obj{"id": "contoso.onmicrosoft.example", "isVerified": true, "supportedServices": []string{}},
	}
	d.Collections["/admin/exchange/domainAuthentication"] = []any{
		obj{"domain": "contoso.example", "spf": "v=spf1 include:spf.protection.example -all", "dkimEnabled": true, "dmarcPolicy": "reject"},
	}
	d.Collections["/admin/exchange/mailboxes"] = []any{
		obj{"userPrincipalName": "alice@contoso.example", "forwardingSmtpAddress": ""},
	}
	d.Collections["/security/informationProtection/sensitivityLabels"] = []any{
		obj{"id": "lbl-1", "name": "Confidential"},
	}
	d.Collections["/security/dataLossPreventionPolicies"] = []any{
		obj{"id": "dlp-1", "name": "Financial data", "state": "enabled"},
	}
	d.Collections["/security/labels/retentionLabels"] = []any{
		obj{"id": "ret-1", "displayName": "Seven years"},
	}
	d.Collections["/security/secureScores"] = []any{
		obj{"currentScore": 82.0, "maxScore": 100.0},
	}
	d.Collections["/security/alerts_v2"] = []any{}
	d.Collections["/applications"] = []any{
		obj{"id": "app-1", "appId": "app-payroll", "displayName": "Payroll Connector",
			"passwordCredentials": []any{obj{"displayName": "rotation", "endDateTime": ts(now.Add(180 * 24 * time.Hour))}},
			"keyCredentials":      []any{}},
	}
	d.Collections["/oauth2PermissionGrants"] = []any{
		obj{"clientId": "sp-2", "consentType": "Principal", "scope": "User.Read"},
	}
	d.Collections["/groups"] = []any{
		obj{"id": "g-1", "displayName": "Finance Team", "groupTypes": []string{"Unified"}, "visibility": "Private"},
		obj{"id": "g-2", "displayName": "All Staff", "groupTypes": []string{}, "securityEnabled": true},
	}
	return d
}

func weak(now time.Time) Dataset {
	d := common(now)
	recent := now.Add(-48 * time.Hour)
	stale := now.Add(-200 * 24 * time.Hour)

	d.Objects["/policies/identitySecurityDefaultsEnforcementPolicy"] = obj{"isEnabled": false}
	d.Objects["/policies/authorizationPolicy"] = obj{
		"allowInvitesFrom":           "everyone",
		"defaultUserRolePermissions": obj{"allowedToCreateApps": true},
	}
	d.Objects["/admin/sharepoint/settings"] = obj{"sharingCapability": "externalUserAndGuestSharing"}

	d.Collections["/identity/conditionalAccess/policies"] = []any{
		obj{
			"id": "ca-mfa", "displayName": "Require MFA (pilot)", "state": "enabledForReportingButNotEnforced",
			"conditions":    obj{"users": obj{"includeUsers": []string{"All"}}, "clientAppTypes": []string{"all"}},
			"grantControls": obj{"builtInControls": []string{"mfa"}},
		},
	}
	d.Collections["/users"] = []any{
		user("u-1", "alice@contoso.example", true, recent),
		user("u-2", "bob@contoso.example", true, recent),
		user("u-3", "carol@contoso.example", true, stale),
		user("u-10", "admin1@contoso.example", true, recent),
		user("u-11", "admin2@contoso.example", true, recent),
		user("u-12", "admin3@contoso.example", true, recent),
		user("u-13", "admin4@contoso.example", true, recent),
		user("u-14", "admin-ops@contoso.example", true, recent),
	}
	d.Collections["/reports/authenticationMethods/userRegistrationDetails"] = []any{
		registration("u-1", "alice@contoso.example", true),
		registration("u-2", "bob@contoso.example", false),
		registration("u-3", "carol@contoso.example", true),
		registration("u-10", "admin1@contoso.example", true),
		registration("u-11", "admin2@contoso.example", true),
		registration("u-12", "admin3@contoso.example", true),
		registration("u-13", "admin4@contoso.example", true),
		registration("u-14", "admin-ops@contoso.example", false),
	}
	d.Collections["/directoryRoles"] = []any{
		obj{"id": "role-ga", "displayName": "Global Administrator", "roleTemplateId": globalAdminTemplate,
			"members": []any{
				member("u-10", "admin1@contoso.example"),
				member("u-11", "admin2@contoso.example"),
				member("u-12", "admin3@contoso.example"),
				member("u-13", "admin4@contoso.example"),
				member("u-14", "admin-ops@contoso.example"),
			}},
		obj{"id": "role-pra", "displayName": "Privileged Role Administrator", "roleTemplateId": "e8611ab8-c189-46e8-94e1-60213ab1f814",
			"members": []any{
				obj{"id": "sp-9", "@odata.type": "#microsoft.graph.servicePrincipal", "displayName": "Legacy Sync"},
			}},
	}
	d.Collections["/roleManagement/directory/roleEligibilitySchedules"] = []any{}
	d.Collections["/deviceManagement/deviceCompliancePolicies"] = []any{}
	d.Collections["/deviceManagement/managedDevices"] = []any{
		obj{"id": "dev-1", "deviceName": "LAPTOP-01", "complianceState": "compliant", "isEncrypted": true, "operatingSystem": "Windows"},
		obj{"id": "dev-2", "deviceName": "LAPTOP-07", "complianceState": "noncompliant", "isEncrypted": true, "operatingSystem": "Windows"},
		obj{"id": "dev-3", "deviceName": "KIOSK-3", "complianceState": "compliant", "isEncrypted": false, "operatingSystem": "Windows"},
	}
	d.Collections["/domains"] = []any{
		obj{"id": "contoso.example", "isVerified": true, "supportedServices": []string{"Email"}},
		obj{"id": "Bücher.example", "isVerified": true, "supportedServices": []string{"Email"}},
	}
	d.Collections["/admin/exchange/domainAuthentication"] = []any{
		obj{"domain": "contoso.example", "spf": "v=spf1 include:spf.protection.example ?all", "dkimEnabled": false, "dmarcPolicy": "none"},
		obj{"domain": "xn--bcher-kva.example", "spf": "v=spf1 -all", "dkimEnabled": true, "dmarcPolicy": "reject"},
	}
	d.Collections["/admin/exchange/mailboxes"] = []any{
		obj{"userPrincipalName": "dave@contoso.example", "forwardingSmtpAddress": "smtp:dave@mail.elsewhere.example"},
		obj{"userPrincipalName": "erin@contoso.example", "forwardingSmtpAddress": "smtp:erin@bücher.example"},
	}
	d.Collections["/security/informationProtection/sensitivityLabels"] = []any{}
	d.Collections["/security/dataLossPreventionPolicies"] = []any{
		obj{"id": "dlp-1", "name": "Financial data (pilot)", "state": "testWithNotifications"},
	}
	d.Collections["/security/secureScores"] = []any{
		obj{"currentScore": 21.0, "maxScore": 100.0},
	}
	d.Collections["/security/alerts_v2"] = []any{
		obj{"id": "al-1", "title": "Suspicious inbox rule", "severity": "high", "status": "new"},
		obj{"id": "al-2", "title": "Impossible travel", "severity": "high", "status": "inProgress"},
		obj{"id": "al-3", "title": "Unusual file download", "severity": "medium", "status": "new"},
	}
	d.Collections["/applications"] = []any{
		obj{"id": "app-1", "appId": "app-payroll", "displayName": "Payroll Connector",
			"passwordCredentials": []any{obj{"displayName": "old", "endDateTime": ts(now.Add(-30 * 24 * time.Hour))}},
			"keyCredentials":      []any{}},
		obj{"id": "app-2", "appId": "app-crm", "displayName": "CRM Sync",
			"passwordCredentials": []any{},
			"keyCredentials":      []any{obj{"displayName": "cert", "endDateTime": ts(now.Add(10 * 24 * time.Hour))}}},
	}
	d.Collections["/oauth2PermissionGrants"] = []any{
		obj{"clientId": "sp-2", "consentType": "AllPrincipals", "scope": "User.Read Mail.ReadWrite"},
	}
	d.Collections["/groups"] = []any{
		obj{"id": "g-1", "displayName": "Finance Team", "groupTypes": []string{"Unified"}, "visibility": "Public"},
		obj{"id": "g-2", "displayName": "All Staff", "groupTypes": []string{}, "securityEnabled": true},
	}
	return d
}
