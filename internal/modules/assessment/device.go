package assessment

import (
	"context"
	"strings"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

const (
	pathManagedDevices     = "/deviceManagement/managedDevices"
	pathCompliancePolicies = "/deviceManagement/deviceCompliancePolicies"
)

var (
	checkCompliancePolicy = modules.Check{
		ID:          "DEV-001",
		Title:       "Device compliance policies are defined",
		Severity:    model.SeverityHigh,
		Description: "Without compliance policies devices cannot be evaluated or gated by conditional access.",
		Remediation: "Create compliance policies for every managed platform.",
	}
	checkDevicesCompliant = modules.Check{
		ID:          "DEV-002",
		Title:       "All managed devices are compliant",
		Severity:    model.SeverityMedium,
		Description: "Non-compliant devices fail at least one assigned compliance policy.",
		Remediation: "Remediate or retire the listed non-compliant devices.",
	}
	checkDevicesEncrypted = modules.Check{
		ID:          "DEV-003",
		Title:       "All managed devices are encrypted",
		Severity:    model.SeverityHigh,
		Description: "Unencrypted devices expose corporate data if lost or stolen.",
		Remediation: "Enforce BitLocker or FileVault through a device configuration profile.",
	}
)

type managedDevice struct {
	ID              string `json:"id"`
	DeviceName      string `json:"deviceName"`
	ComplianceState string `json:"complianceState"`
	IsEncrypted     bool   `json:"isEncrypted"`
	OperatingSystem string `json:"operatingSystem"`
}

// DeviceModule checks endpoint management posture.
type DeviceModule struct{ base }

func (m *DeviceModule) Domain() model.Domain { return model.DomainDeviceAndEndpoint }

func (m *DeviceModule) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return m.run(ctx, client, m.Domain(), runID, m.evaluate)
}

func (m *DeviceModule) evaluate(c *modules.Collector) {
	if raw, ok := c.List(pathCompliancePolicies, false); ok {
		c.Evaluate(checkCompliancePolicy, len(raw) > 0, nil)
	}

	raw, ok := c.List(pathManagedDevices, true)
	if !ok {
		return
	}
	devices := modules.Decode[managedDevice](c, pathManagedDevices, raw)

	var noncompliant, unencrypted []string
	for _, d := range devices {
		if strings.EqualFold(d.ComplianceState, "noncompliant") {
			noncompliant = append(noncompliant, d.DeviceName)
		}
		if !d.IsEncrypted {
			unencrypted = append(unencrypted, d.DeviceName)
		}
	}
	c.Evaluate(checkDevicesCompliant, len(noncompliant) == 0, noncompliant)
	c.Evaluate(checkDevicesEncrypted, len(unencrypted) == 0, unencrypted)
}
