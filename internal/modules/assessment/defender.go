package assessment

import (
	"context"
	"fmt"
	"strings"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/modules"
	"github.com/raysh454/kansa/internal/provider"
)

const (
	pathSecureScores = "/security/secureScores?$top=1"
	pathAlerts       = "/security/alerts_v2?$filter=status ne 'resolved'"

	minSecureScoreRatio = 0.5
)

var (
	checkSecureScore = modules.Check{
		ID:          "DEF-001",
		Title:       "Secure score is at least half of the achievable maximum",
		Severity:    model.SeverityMedium,
		Description: "The secure score summarizes how many recommended controls are implemented.",
		Remediation: "Work through the highest impact secure score improvement actions.",
	}
	checkOpenAlerts = modules.Check{
		ID:          "DEF-002",
		Title:       "No unresolved high severity alerts",
		Severity:    model.SeverityHigh,
		Description: "Open high severity alerts may indicate an active compromise.",
		Remediation: "Triage and resolve the listed alerts.",
	}
	checkAlertVolume = modules.Check{
		ID:          "DEF-003",
		Title:       "Alert queue is being worked",
		Severity:    model.SeverityInformational,
		Description: "A large backlog of unresolved alerts suggests nobody is triaging the queue.",
		Remediation: "Assign an owner to the alert queue and review it daily.",
	}

	alertBacklogThreshold = 25
)

type secureScore struct {
	CurrentScore float64 `json:"currentScore"`
	MaxScore     float64 `json:"maxScore"`
}

type alert struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
}

// DefenderModule checks threat protection signals.
type DefenderModule struct{ base }

func (m *DefenderModule) Domain() model.Domain { return model.DomainDefender }

func (m *DefenderModule) Collect(ctx context.Context, client provider.Client, tenantID, runID string) modules.Result {
	return m.run(ctx, client, m.Domain(), runID, m.evaluate)
}

func (m *DefenderModule) evaluate(c *modules.Collector) {
	if raw, ok := c.List(pathSecureScores, true); ok {
		scores := modules.Decode[secureScore](c, pathSecureScores, raw)
		if len(scores) == 0 || scores[0].MaxScore <= 0 {
			c.Warn("no secure score available")
		} else {
			s := scores[0]
			ratio := s.CurrentScore / s.MaxScore
			c.Evaluate(checkSecureScore, ratio >= minSecureScoreRatio,
				[]string{fmt.Sprintf("%.0f/%.0f", s.CurrentScore, s.MaxScore)})
		}
	}

	if raw, ok := c.List(pathAlerts, false); ok {
		alerts := modules.Decode[alert](c, pathAlerts, raw)
		var high []string
		open := 0
		for _, a := range alerts {
			if strings.EqualFold(a.Status, "resolved") {
				continue
			}
			open++
			if strings.EqualFold(a.Severity, "high") {
				high = append(high, a.Title)
			}
		}
		c.Evaluate(checkOpenAlerts, len(high) == 0, high)
		c.Evaluate(checkAlertVolume, open < alertBacklogThreshold, nil)
	}
}
