package scoring

import (
	"math"
	"sort"

	"github.com/raysh454/kansa/internal/model"
)

// DomainDelta is the change in one domain's score between two runs.
type DomainDelta struct {
	Domain    model.Domain `json:"domain"`
	Base      int          `json:"base"`
	Head      int          `json:"head"`
	Delta     int          `json:"delta"`
	BaseGrade string       `json:"base_grade,omitempty"`
	HeadGrade string       `json:"head_grade,omitempty"`
}

// RunDelta compares two assessment runs of the same tenant.
type RunDelta struct {
	BaseRun      string        `json:"base_run"`
	HeadRun      string        `json:"head_run"`
	BaseOverall  int           `json:"base_overall"`
	HeadOverall  int           `json:"head_overall"`
	Delta        int           `json:"delta"`
	DomainDeltas []DomainDelta `json:"domain_deltas"`
}

// DiffScores computes per-domain deltas. Domains present on only one side
// count as 0 on the other. Largest absolute change sorts first.
func DiffScores(baseRun, headRun string, base, head []model.DomainScore, baseOverall, headOverall int) *RunDelta {
	rd := &RunDelta{
		BaseRun:      baseRun,
		HeadRun:      headRun,
		BaseOverall:  baseOverall,
		HeadOverall:  headOverall,
		Delta:        headOverall - baseOverall,
		DomainDeltas: []DomainDelta{},
	}

	byDomain := make(map[model.Domain]*DomainDelta)
	get := func(d model.Domain) *DomainDelta {
		dd, ok := byDomain[d]
		if !ok {
			dd = &DomainDelta{Domain: d}
			byDomain[d] = dd
		}
		return dd
	}
	for _, s := range base {
		dd := get(s.Domain)
		dd.Base = s.Score
		dd.BaseGrade = s.Grade
	}
	for _, s := range head {
		dd := get(s.Domain)
		dd.Head = s.Score
		dd.HeadGrade = s.Grade
	}

	for _, dd := range byDomain {
		dd.Delta = dd.Head - dd.Base
		rd.DomainDeltas = append(rd.DomainDeltas, *dd)
	}
	sort.Slice(rd.DomainDeltas, func(i, j int) bool {
		ai := math.Abs(float64(rd.DomainDeltas[i].Delta))
		aj := math.Abs(float64(rd.DomainDeltas[j].Delta))
		if ai != aj {
			return ai > aj
		}
		return rd.DomainDeltas[i].Domain < rd.DomainDeltas[j].Domain
	})
	return rd
}
