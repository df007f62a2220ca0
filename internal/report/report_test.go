package report

import (
	"testing"
	"time"

	"github.com/raysh454/kansa/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func finding(d model.Domain, sev model.Severity, compliant bool, check string) model.Finding {
	return model.Finding{Domain: d, Severity: sev, IsCompliant: compliant, CheckID: check, Remediation: "fix " + check}
}

func TestBuildAssessment_ScoresOnlyCollectedDomains(t *testing.T) {
	run := model.Run{ID: "r1", Kind: model.KindAssessment, Status: model.StatusPartiallyCompleted}
	units := []model.DomainUnit{
		{Domain: model.DomainPrivilegedAccess, Status: model.StatusFailed, ErrorMessage: "denied"},
		{Domain: model.DomainIdentityAndAccess, Status: model.StatusCompleted, ItemCount: 2},
	}
	findings := []model.Finding{
		finding(model.DomainIdentityAndAccess, model.SeverityLow, true, "IAM-002"),
		finding(model.DomainIdentityAndAccess, model.SeverityCritical, false, "IAM-001"),
	}

	r := BuildAssessment(run, units, findings, nil, now)

	if len(r.Domains) != 2 || r.Domains[0].Unit.Domain != model.DomainIdentityAndAccess {
		t.Fatalf("expected units in declaration order, got %+v", r.Domains)
	}
	if r.Domains[0].Score == nil || r.Domains[0].Score.Score != 85 {
		t.Errorf("expected IAM scored 85, got %+v", r.Domains[0].Score)
	}
	if r.Domains[1].Score != nil {
		t.Error("failed domain must not be scored")
	}
	if r.OverallScore == nil || *r.OverallScore != 85 || r.Grade != "B" {
		t.Errorf("unexpected overall: %v %q", r.OverallScore, r.Grade)
	}
	if r.Findings[0].CheckID != "IAM-001" {
		t.Errorf("expected critical finding first, got %s", r.Findings[0].CheckID)
	}
	if r.ScoringVersion == "" {
		t.Error("expected scoring version")
	}
}

func TestBuildAssessment_NoScoreForFailedOrCancelledRun(t *testing.T) {
	for _, st := range []model.RunStatus{model.StatusFailed, model.StatusCancelled} {
		run := model.Run{ID: "r1", Kind: model.KindAssessment, Status: st}
		units := []model.DomainUnit{{Domain: model.DomainDefender, Status: model.StatusCompleted}}
		r := BuildAssessment(run, units, nil, nil, now)
		if r.OverallScore != nil {
			t.Errorf("%s: expected no overall score", st)
		}
		if r.Domains[0].Score == nil || r.Domains[0].Score.Score != 100 {
			t.Errorf("%s: completed unit should still carry its domain score", st)
		}
	}
}

func TestBuildInventory(t *testing.T) {
	run := model.Run{ID: "r2", Kind: model.KindInventory, Status: model.StatusCompleted}
	units := []model.DomainUnit{
		{Domain: model.DomainGroups, Status: model.StatusCompleted},
		{Domain: model.DomainUsers, Status: model.StatusCompleted},
	}
	r := BuildInventory(run, units, map[model.Domain]int{model.DomainUsers: 3, model.DomainGroups: 2}, now)
	if r.TotalItems != 5 || r.Domains[0].Unit.Domain != model.DomainUsers || r.Domains[0].Items != 3 {
		t.Errorf("unexpected inventory report: %+v", r)
	}
	if r.OverallScore != nil || len(r.Findings) != 0 {
		t.Error("inventory report must not carry scores or findings")
	}
}

func TestSortFindings_DoesNotMutateInput(t *testing.T) {
	in := []model.Finding{
		finding(model.DomainDefender, model.SeverityLow, false, "DEF-003"),
		finding(model.DomainIdentityAndAccess, model.SeverityLow, false, "IAM-004"),
		finding(model.DomainDefender, model.SeverityHigh, false, "DEF-001"),
	}
	out := SortFindings(in)
	if in[0].CheckID != "DEF-003" {
		t.Error("input mutated")
	}
	want := []string{"DEF-001", "IAM-004", "DEF-003"}
	for i, w := range want {
		if out[i].CheckID != w {
			t.Errorf("position %d: got %s want %s", i, out[i].CheckID, w)
		}
	}
}
