package assessment

import (
	"context"
	"strings"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

const (
	pathSensitivityLabels = "/security/informationProtection/sensitivityLabels"
	pathDLPPolicies       = "/security/dataLossPreventionPolicies"
	pathRetentionLabels   = "/security/labels/retentionLabels"
)

var (
	checkSensitivityLabels = modules.Check{
		ID:          "DLP-001",
		Title:       "Sensitivity labels are published",
		Severity:    model.SeverityMedium,
		Description: "Labels let users classify and protect documents and email.",
		Remediation: "Define and publish a sensitivity label taxonomy.",
	}
	checkDLPPolicy = modules.Check{
		ID:          "DLP-002",
		Title:       "At least one data loss prevention policy is enforced",
		Severity:    model.SeverityHigh,
		Description: "DLP policies detect and block sharing of sensitive information.",
		Remediation: "Enable a DLP policy covering financial and personal data in enforcement mode.",
	}
	checkTestModeDLP = modules.Check{
		ID:          "DLP-003",
		Title:       "No DLP policies are left in test mode",
		Severity:    model.SeverityLow,
		Description: "Policies in test mode only audit and do not block.",
		Remediation: "Move validated DLP policies from test mode to enforcement.",
	}
	checkRetentionLabels = modules.Check{
		ID:          "DLP-004",
		Title:       "Retention labels are defined",
		Severity:    model.SeverityLow,
		Description: "Retention labels keep records for regulatory periods and dispose of them afterwards.",
		Remediation: "Create retention labels aligned with the records schedule.",
	}
)

type dlpPolicy struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// DataProtectionModule checks information protection and DLP coverage.
type DataProtectionModule struct{ base }

func (m *DataProtectionModule) Domain() model.Domain { return model.DomainDataProtection }

func (m *DataProtectionModule) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return m.run(ctx, client, m.Domain(), runID, m.evaluate)
}

func (m *DataProtectionModule) evaluate(c *modules.Collector) {
	if raw, ok := c.List(pathSensitivityLabels, false); ok {
		c.Evaluate(checkSensitivityLabels, len(raw) > 0, nil)
	}

	if raw, ok := c.List(pathDLPPolicies, true); ok {
		var enforced int
		var testing []string
		for _, p := range modules.Decode[dlpPolicy](c, pathDLPPolicies, raw) {
			switch strings.ToLower(p.State) {
			case "enabled", "enforce":
				enforced++
			case "test", "testwithnotifications", "testwithoutnotifications":
				testing = append(testing, p.Name)
			}
		}
		c.Evaluate(checkDLPPolicy, enforced > 0, nil)
		c.Evaluate(checkTestModeDLP, len(testing) == 0, testing)
	}

	if raw, ok := c.List(pathRetentionLabels, false); ok {
		c.Evaluate(checkRetentionLabels, len(raw) > 0, nil)
	}
}
