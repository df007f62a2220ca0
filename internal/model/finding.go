package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity orders findings; Critical is the most severe and sorts first.
type Severity int

const (
	SeverityCritical Severity = iota + 1
	SeverityHigh
	SeverityMedium
	SeverityLow
	SeverityInformational
)

var severityNames = map[Severity]string{
	SeverityCritical:      "Critical",
	SeverityHigh:          "High",
	SeverityMedium:        "Medium",
	SeverityLow:           "Low",
	SeverityInformational: "Informational",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity accepts names case-insensitively ("critical", "High", ...).
func ParseSeverity(v string) (Severity, error) {
	for s, n := range severityNames {
		if strings.EqualFold(n, strings.TrimSpace(v)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", v)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		var n int
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return err
		}
		*s = Severity(n)
		return nil
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Finding is one compliance-check result. Severity and IsCompliant are
// independent: an Informational finding may still be non-compliant.
type Finding struct {
	ID                string    `json:"id"`
	RunID             string    `json:"run_id"`
	UnitID            string    `json:"unit_id,omitempty"`
	Domain            Domain    `json:"domain"`
	Severity          Severity  `json:"severity"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	IsCompliant       bool      `json:"is_compliant"`
	Remediation       string    `json:"remediation,omitempty"`
	CheckID           string    `json:"check_id,omitempty"`
	AffectedResources []string  `json:"affected_resources"`
	CreatedAt         time.Time `json:"created_at"`
}

// InventoryItem is one collected directory object on the inventory side.
// Payload holds the raw provider JSON; PayloadRef is its blob id once archived.
type InventoryItem struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	UnitID      string          `json:"unit_id,omitempty"`
	Domain      Domain          `json:"domain"`
	ExternalID  string          `json:"external_id"`
	DisplayName string          `json:"display_name"`
	PayloadRef  string          `json:"payload_ref,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DomainScore is derived from the findings of one domain within one run.
type DomainScore struct {
	Domain             Domain   `json:"domain"`
	Score              int      `json:"score"`
	Grade              string   `json:"grade"`
	TotalChecks        int      `json:"total_checks"`
	PassedChecks       int      `json:"passed_checks"`
	FailedChecks       int      `json:"failed_checks"`
	CriticalCount      int      `json:"critical_count"`
	HighCount          int      `json:"high_count"`
	MediumCount        int      `json:"medium_count"`
	LowCount           int      `json:"low_count"`
	InformationalCount int      `json:"informational_count"`
	TopRecommendations []string `json:"top_recommendations"`
}
