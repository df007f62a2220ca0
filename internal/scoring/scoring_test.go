package scoring

import (
	"math/rand"
	"testing"

	"github.com/raysh454/kansa/internal/model"
)

func failing(sev model.Severity, n int, remediation string) []model.Finding {
	out := make([]model.Finding, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Finding{
			Domain:      model.DomainIdentityAndAccess,
			Severity:    sev,
			IsCompliant: false,
			Remediation: remediation,
		})
	}
	return out
}

// ─── Domain score ───────────────────────────────────────────────────────

func TestDomainScore_EmptyIsPerfect(t *testing.T) {
	for _, d := range model.AssessmentDomains {
		ds := CalculateDomainScore(d, nil)
		if ds.Score != 100 || ds.Grade != "A" {
			t.Errorf("%s: got %d/%s, want 100/A", d, ds.Score, ds.Grade)
		}
		if ds.TotalChecks != 0 || ds.FailedChecks != 0 || ds.CriticalCount != 0 {
			t.Errorf("%s: counts should be zero: %+v", d, ds)
		}
	}
}

func TestDomainScore_OneCritical(t *testing.T) {
	ds := CalculateDomainScore(model.DomainDefender, failing(model.SeverityCritical, 1, "fix it"))
	if ds.Score != 85 || ds.Grade != "B" {
		t.Fatalf("got %d/%s, want 85/B", ds.Score, ds.Grade)
	}
	if ds.CriticalCount != 1 || ds.FailedChecks != 1 || ds.TotalChecks != 1 {
		t.Errorf("unexpected counts: %+v", ds)
	}
}

func TestDomainScore_CategoryCap(t *testing.T) {
	s := Default()
	for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow} {
		for _, n := range []int{1, 3, 10, 50} {
			if d := s.Deduction(sev, n); d > 40.0 {
				t.Errorf("%s x%d deducts %.1f, exceeds cap", sev, n, d)
			}
		}
	}
	three := CalculateDomainScore(model.DomainDefender, failing(model.SeverityCritical, 3, ""))
	ten := CalculateDomainScore(model.DomainDefender, failing(model.SeverityCritical, 10, ""))
	if three.Score != 60 || ten.Score != 60 {
		t.Errorf("capped critical deduction should leave 60, got %d and %d", three.Score, ten.Score)
	}
}

func TestDomainScore_FloorAtZero(t *testing.T) {
	var fs []model.Finding
	fs = append(fs, failing(model.SeverityCritical, 10, "")...)
	fs = append(fs, failing(model.SeverityHigh, 10, "")...)
	fs = append(fs, failing(model.SeverityMedium, 10, "")...)
	fs = append(fs, failing(model.SeverityLow, 10, "")...)

	ds := CalculateDomainScore(model.DomainIdentityAndAccess, fs)
	if ds.Score != 0 || ds.Grade != "F" {
		t.Fatalf("got %d/%s, want 0/F", ds.Score, ds.Grade)
	}
}

func TestDomainScore_Monotonic(t *testing.T) {
	sevs := []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow, model.SeverityInformational}
	r := rand.New(rand.NewSource(7))
	var fs []model.Finding
	prev := CalculateDomainScore(model.DomainCollaboration, fs).Score
	for i := 0; i < 60; i++ {
		fs = append(fs, failing(sevs[r.Intn(len(sevs))], 1, "")...)
		cur := CalculateDomainScore(model.DomainCollaboration, fs).Score
		if cur > prev {
			t.Fatalf("score increased from %d to %d after adding finding %d", prev, cur, i)
		}
		prev = cur
	}
}

func TestDomainScore_InformationalNotDeducted(t *testing.T) {
	ds := CalculateDomainScore(model.DomainDefender, failing(model.SeverityInformational, 4, "note"))
	if ds.Score != 100 {
		t.Errorf("informational findings should not deduct, got %d", ds.Score)
	}
	if ds.InformationalCount != 4 || ds.FailedChecks != 4 {
		t.Errorf("informational findings should still be counted: %+v", ds)
	}
}

func TestDomainScore_CompliantFindingsPass(t *testing.T) {
	fs := []model.Finding{
		{Severity: model.SeverityCritical, IsCompliant: true},
		{Severity: model.SeverityHigh, IsCompliant: false, Remediation: "enable it"},
	}
	ds := CalculateDomainScore(model.DomainDefender, fs)
	if ds.PassedChecks != 1 || ds.FailedChecks != 1 || ds.CriticalCount != 0 || ds.HighCount != 1 {
		t.Errorf("unexpected counts: %+v", ds)
	}
	if ds.Score != 92 {
		t.Errorf("score = %d, want 92", ds.Score)
	}
}

// ─── Recommendations ────────────────────────────────────────────────────

func TestTopRecommendations_SeverityOrderThenFilter(t *testing.T) {
	fs := []model.Finding{
		{Severity: model.SeverityLow, Remediation: "low-1"},
		{Severity: model.SeverityCritical, Remediation: "crit-1"},
		{Severity: model.SeverityHigh, Remediation: ""},
		{Severity: model.SeverityCritical, Remediation: "crit-2"},
		{Severity: model.SeverityMedium, Remediation: "med-1"},
		{Severity: model.SeverityHigh, Remediation: "high-1"},
		{Severity: model.SeverityLow, Remediation: "low-2"},
	}
	ds := CalculateDomainScore(model.DomainDefender, fs)
	want := []string{"crit-1", "crit-2", "high-1", "med-1"}
	if len(ds.TopRecommendations) != len(want) {
		t.Fatalf("got %v, want %v", ds.TopRecommendations, want)
	}
	for i := range want {
		if ds.TopRecommendations[i] != want[i] {
			t.Errorf("rec[%d] = %q, want %q", i, ds.TopRecommendations[i], want[i])
		}
	}
}

func TestTopRecommendations_DuplicatesKept(t *testing.T) {
	ds := CalculateDomainScore(model.DomainDefender, failing(model.SeverityHigh, 7, "same"))
	if len(ds.TopRecommendations) != 5 {
		t.Fatalf("expected 5 recommendations, got %d", len(ds.TopRecommendations))
	}
}

// ─── Grades ─────────────────────────────────────────────────────────────

func TestGrade_Boundaries(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{100, "A"}, {90, "A"}, {89, "B"}, {80, "B"}, {79, "C"},
		{70, "C"}, {69, "D"}, {60, "D"}, {59, "F"}, {0, "F"},
	}
	for _, tc := range cases {
		if got := Grade(tc.score); got != tc.want {
			t.Errorf("Grade(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

// ─── Overall ────────────────────────────────────────────────────────────

func TestOverall_Empty(t *testing.T) {
	if got := CalculateOverallScore(nil); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestOverall_SingleDomain(t *testing.T) {
	for _, d := range model.AssessmentDomains {
		got := CalculateOverallScore([]model.DomainScore{{Domain: d, Score: 73}})
		if got != 73 {
			t.Errorf("%s: got %d, want 73", d, got)
		}
	}
}

func TestOverall_WeightedPull(t *testing.T) {
	scores := []model.DomainScore{
		{Domain: model.DomainIdentityAndAccess, Score: 50},
		{Domain: model.DomainCollaboration, Score: 100},
		{Domain: model.DomainDeviceAndEndpoint, Score: 100},
	}
	got := CalculateOverallScore(scores)
	if got != 78 {
		t.Errorf("got %d, want 78", got)
	}
	if float64(got) >= 250.0/3.0 {
		t.Errorf("weighted score %d should be below the plain average", got)
	}
}

func TestOverall_OrderIndependent(t *testing.T) {
	scores := []model.DomainScore{
		{Domain: model.DomainIdentityAndAccess, Score: 41},
		{Domain: model.DomainPrivilegedAccess, Score: 77},
		{Domain: model.DomainDeviceAndEndpoint, Score: 93},
		{Domain: model.DomainExchangeEmail, Score: 62},
		{Domain: model.DomainDataProtection, Score: 88},
		{Domain: model.DomainDefender, Score: 100},
		{Domain: model.DomainAppGovernance, Score: 15},
		{Domain: model.DomainCollaboration, Score: 70},
	}
	want := CalculateOverallScore(scores)
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		perm := append([]model.DomainScore(nil), scores...)
		r.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		if got := CalculateOverallScore(perm); got != want {
			t.Fatalf("permutation %d: got %d, want %d", i, got, want)
		}
	}
}

func TestOverall_CustomWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DomainWeights = map[model.Domain]float64{model.DomainDefender: 3}
	s := New(cfg)
	got := s.Overall([]model.DomainScore{
		{Domain: model.DomainDefender, Score: 100},
		{Domain: model.DomainCollaboration, Score: 0},
	})
	if got != 75 {
		t.Errorf("got %d, want 75", got)
	}
}

func TestByDomain_GroupsInOrder(t *testing.T) {
	fs := []model.Finding{
		{Domain: model.DomainDefender, Severity: model.SeverityHigh},
		{Domain: model.DomainIdentityAndAccess, Severity: model.SeverityCritical},
	}
	out := Default().ByDomain([]model.Domain{model.DomainIdentityAndAccess, model.DomainDefender, model.DomainCollaboration}, fs)
	if len(out) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(out))
	}
	if out[0].Score != 85 || out[1].Score != 92 || out[2].Score != 100 {
		t.Errorf("unexpected scores: %d %d %d", out[0].Score, out[1].Score, out[2].Score)
	}
}
