// Package scoring turns normalized findings into domain and overall
// compliance scores. Everything here is pure and deterministic.
package scoring

import (
	"math"
	"sort"

	"github.com/raysh454/kansa/internal/model"
)

// Version identifies the scoring rules so stored scores can be compared safely.
const Version = "v1"

const (
	maxRecommendations  = 5
	defaultDomainWeight = 1.0
)

// Config holds the tunable scoring parameters.
type Config struct {
	// SeverityWeights is the deduction per non-compliant finding.
	SeverityWeights map[model.Severity]float64 `json:"severity_weights"`

	// CategoryCap bounds the deduction any single severity can contribute.
	CategoryCap float64 `json:"category_cap"`

	// DomainWeights feeds the overall weighted average. Missing domains weigh 1.0.
	DomainWeights map[model.Domain]float64 `json:"domain_weights"`
}

// DefaultConfig returns the production weights.
func DefaultConfig() Config {
	return Config{
		SeverityWeights: map[model.Severity]float64{
			model.SeverityCritical: 15.0,
			model.SeverityHigh:     8.0,
			model.SeverityMedium:   4.0,
			model.SeverityLow:      1.0,
		},
		CategoryCap: 40.0,
		DomainWeights: map[model.Domain]float64{
			model.DomainIdentityAndAccess: 1.5,
			model.DomainPrivilegedAccess:  1.4,
			model.DomainDataProtection:    1.3,
			model.DomainExchangeEmail:     1.2,
			model.DomainDefender:          1.2,
			model.DomainAppGovernance:     1.1,
		},
	}
}

// Scorer applies a Config. The zero value is not usable; use New or Default.
type Scorer struct {
	cfg Config
}

func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

var std = New(DefaultConfig())

// Default returns the scorer backed by DefaultConfig.
func Default() *Scorer { return std }

// DomainScore scores the findings of a single domain.
func (s *Scorer) DomainScore(domain model.Domain, findings []model.Finding) model.DomainScore {
	ds := model.DomainScore{
		Domain:             domain,
		Score:              100,
		Grade:              "A",
		TopRecommendations: []string{},
	}
	if len(findings) == 0 {
		return ds
	}

	ds.TotalChecks = len(findings)
	var failed []model.Finding
	for _, f := range findings {
		if f.IsCompliant {
			ds.PassedChecks++
			continue
		}
		ds.FailedChecks++
		failed = append(failed, f)
		switch f.Severity {
		case model.SeverityCritical:
			ds.CriticalCount++
		case model.SeverityHigh:
			ds.HighCount++
		case model.SeverityMedium:
			ds.MediumCount++
		case model.SeverityLow:
			ds.LowCount++
		case model.SeverityInformational:
			ds.InformationalCount++
		}
	}

	total := s.deduction(model.SeverityCritical, ds.CriticalCount) +
		s.deduction(model.SeverityHigh, ds.HighCount) +
		s.deduction(model.SeverityMedium, ds.MediumCount) +
		s.deduction(model.SeverityLow, ds.LowCount)

	score := int(math.Round(100 - total))
	if score < 0 {
		score = 0
	}
	ds.Score = score
	ds.Grade = Grade(score)
	ds.TopRecommendations = topRecommendations(failed)
	return ds
}

// Deduction is the capped number of points count findings of sev remove.
func (s *Scorer) Deduction(sev model.Severity, count int) float64 {
	return s.deduction(sev, count)
}

func (s *Scorer) deduction(sev model.Severity, count int) float64 {
	w, ok := s.cfg.SeverityWeights[sev]
	if !ok || count <= 0 {
		return 0
	}
	return math.Min(float64(count)*w, s.cfg.CategoryCap)
}

// topRecommendations takes the five most severe failures first and only then
// drops those without remediation text, so fewer than five may come back.
func topRecommendations(failed []model.Finding) []string {
	sorted := append([]model.Finding(nil), failed...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity < sorted[j].Severity
	})
	if len(sorted) > maxRecommendations {
		sorted = sorted[:maxRecommendations]
	}
	out := []string{}
	for _, f := range sorted {
		if f.Remediation != "" {
			out = append(out, f.Remediation)
		}
	}
	return out
}

// Overall is the floor of the weighted average of the given domain scores.
func (s *Scorer) Overall(scores []model.DomainScore) int {
	if len(scores) == 0 {
		return 0
	}
	var num, den float64
	for _, ds := range scores {
		w := s.weight(ds.Domain)
		num += float64(ds.Score) * w
		den += w
	}
	if den <= 0 {
		return 0
	}
	return int(math.Floor(num / den))
}

func (s *Scorer) weight(d model.Domain) float64 {
	if w, ok := s.cfg.DomainWeights[d]; ok {
		return w
	}
	return defaultDomainWeight
}

// Grade maps a 0-100 score to a letter.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// ByDomain groups findings and scores each group, in the declaration order of
// domains. Domains absent from findings are scored as empty.
func (s *Scorer) ByDomain(domains []model.Domain, findings []model.Finding) []model.DomainScore {
	grouped := make(map[model.Domain][]model.Finding, len(domains))
	for _, f := range findings {
		grouped[f.Domain] = append(grouped[f.Domain], f)
	}
	out := make([]model.DomainScore, 0, len(domains))
	for _, d := range domains {
		out = append(out, s.DomainScore(d, grouped[d]))
	}
	return out
}

// CalculateDomainScore scores one domain with the default weights.
func CalculateDomainScore(domain model.Domain, findings []model.Finding) model.DomainScore {
	return std.DomainScore(domain, findings)
}

// CalculateOverallScore aggregates domain scores with the default weights.
func CalculateOverallScore(scores []model.DomainScore) int {
	return std.Overall(scores)
}
