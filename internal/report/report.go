// Package report builds the finalized, read-only projection of a terminal
// run that external renderers consume.
package report

import (
	"sort"
	"time"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/scoring"
)

// DomainSection is one unit of the run with its derived score, if any.
type DomainSection struct {
	Unit  model.DomainUnit   `json:"unit"`
	Score *model.DomainScore `json:"score,omitempty"`
	Items int                `json:"items,omitempty"`
}

// Report is shared by both pipelines. Assessment reports carry scores and
// findings; inventory reports carry item counts.
type Report struct {
	Kind           model.RunKind        `json:"kind"`
	Run            model.Run            `json:"run"`
	Domains        []DomainSection      `json:"domains"`
	OverallScore   *int                 `json:"overall_score,omitempty"`
	Grade          string               `json:"grade,omitempty"`
	ScoringVersion string               `json:"scoring_version,omitempty"`
	Findings       []model.Finding      `json:"findings,omitempty"`
	ItemCounts     map[model.Domain]int `json:"item_counts,omitempty"`
	TotalItems     int                  `json:"total_items"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// Scored reports whether a unit's findings count towards the run score.
func Scored(status model.RunStatus) bool {
	return status == model.StatusCompleted || status == model.StatusPartiallyCompleted
}

// BuildAssessment scores each Completed or PartiallyCompleted unit and
// orders findings most severe first. The overall score is recomputed from
// the domain scores and only reported when the run status allows one.
func BuildAssessment(run model.Run, units []model.DomainUnit, findings []model.Finding, scorer *scoring.Scorer, now time.Time) *Report {
	if scorer == nil {
		scorer = scoring.Default()
	}
	units = ordered(run.Kind, units)

	var scoredDomains []model.Domain
	for _, u := range units {
		if Scored(u.Status) {
			scoredDomains = append(scoredDomains, u.Domain)
		}
	}
	scores := scorer.ByDomain(scoredDomains, findings)
	byDomain := make(map[model.Domain]model.DomainScore, len(scores))
	for _, s := range scores {
		byDomain[s.Domain] = s
	}

	r := &Report{
		Kind:           model.KindAssessment,
		Run:            run,
		Domains:        make([]DomainSection, 0, len(units)),
		ScoringVersion: scoring.Version,
		Findings:       SortFindings(findings),
		GeneratedAt:    now,
	}
	for _, u := range units {
		sec := DomainSection{Unit: u}
		if s, ok := byDomain[u.Domain]; ok {
			s := s
			sec.Score = &s
		}
		r.Domains = append(r.Domains, sec)
		r.TotalItems += u.ItemCount
	}
	if Scored(run.Status) {
		overall := scorer.Overall(scores)
		r.OverallScore = &overall
		r.Grade = scoring.Grade(overall)
	}
	return r
}

// BuildInventory summarizes an inventory run with per-domain item counts.
func BuildInventory(run model.Run, units []model.DomainUnit, counts map[model.Domain]int, now time.Time) *Report {
	units = ordered(run.Kind, units)
	r := &Report{
		Kind:        model.KindInventory,
		Run:         run,
		Domains:     make([]DomainSection, 0, len(units)),
		ItemCounts:  make(map[model.Domain]int, len(counts)),
		GeneratedAt: now,
	}
	for _, u := range units {
		n := counts[u.Domain]
		r.Domains = append(r.Domains, DomainSection{Unit: u, Items: n})
		r.ItemCounts[u.Domain] = n
		r.TotalItems += n
	}
	return r
}

// SortFindings returns a copy ordered by severity, then domain order, then
// check id.
func SortFindings(in []model.Finding) []model.Finding {
	out := append([]model.Finding{}, in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity != b.Severity {
			return a.Severity < b.Severity
		}
		oa, ob := model.DomainOrder(model.KindAssessment, a.Domain), model.DomainOrder(model.KindAssessment, b.Domain)
		if oa != ob {
			return oa < ob
		}
		return a.CheckID < b.CheckID
	})
	return out
}

func ordered(kind model.RunKind, units []model.DomainUnit) []model.DomainUnit {
	out := append([]model.DomainUnit{}, units...)
	sort.SliceStable(out, func(i, j int) bool {
		return model.DomainOrder(kind, out[i].Domain) < model.DomainOrder(kind, out[j].Domain)
	})
	return out
}
