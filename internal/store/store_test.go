package store

import (
	"fmt"
	"testing"
	"time"
)

func TestFeedbackValues(t *testing.T) {
	valid := []Feedback{FeedbackApproved, FeedbackRejected, FeedbackCorrected}
	expected := []string{"approved", "rejected", "corrected"}
	for i, f := range valid {
		if string(f) != expected[i] {
			t.Errorf("expected %s, got %s", expected[i], f)
		}
		if !f.Valid() {
			t.Errorf("expected %s to be valid", f)
		}
	}
	if Feedback("maybe").Valid() {
		t.Error("expected unknown feedback to be invalid")
	}
}

func TestClampConfidence(t *testing.T) {
	cases := map[float64]float64{
		-0.2:    0,
		0:       0,
		0.3:     0.3,
		0.70001: 0.7,
		1.05:    1,
	}
	for in, want := range cases {
		if got := ClampConfidence(in); got != want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestRuleAdjustDeactivatesBelowFloor(t *testing.T) {
	r := &Rule{Confidence: 0.5, Active: true}

	r.Adjust(-0.15, false)
	if r.Confidence != 0.35 || !r.Active {
		t.Fatalf("expected 0.35 active, got %v active=%v", r.Confidence, r.Active)
	}
	r.Adjust(-0.10, false)
	if r.Confidence != 0.25 || r.Active {
		t.Fatalf("expected 0.25 inactive, got %v active=%v", r.Confidence, r.Active)
	}
	if r.RejectionsCount != 2 {
		t.Errorf("expected 2 rejections, got %d", r.RejectionsCount)
	}

	// Late approvals leave an inactive rule below the floor.
	if r.Adjust(0.05, true) || r.Adjust(0.05, true) {
		t.Error("expected adjust on an inactive rule to report false")
	}
	if r.Confidence != 0.25 {
		t.Errorf("expected 0.25, got %v", r.Confidence)
	}
	if r.Active {
		t.Error("expected rule to stay inactive")
	}
	if r.ApplicationsCount != 0 {
		t.Errorf("expected no applications counted, got %d", r.ApplicationsCount)
	}
}

func TestRuleAdjustClamps(t *testing.T) {
	r := &Rule{Confidence: 0.98, Active: true}
	r.Adjust(0.05, true)
	if r.Confidence != 1 {
		t.Errorf("expected clamp to 1, got %v", r.Confidence)
	}
	r = &Rule{Confidence: 0.05, Active: true}
	r.Adjust(-0.15, false)
	if r.Confidence != 0 || r.Active {
		t.Errorf("expected 0 inactive, got %v active=%v", r.Confidence, r.Active)
	}
}

func TestGraduationInitialState(t *testing.T) {
	g := NewGraduationTracking("u1", "maintenance", 0)
	if g.CurrentLevel != 1 || g.GraduationThreshold != 10 || g.BackoffMultiplier != 1 {
		t.Fatalf("unexpected initial state: %+v", g)
	}
	if g.Eligible() {
		t.Error("expected fresh row to be ineligible")
	}
}

func TestGraduationEligibilityFormula(t *testing.T) {
	now := time.Now()
	g := NewGraduationTracking("u1", "maintenance", 10)
	for i := 0; i < 9; i++ {
		g.RecordFeedback(true, now)
	}
	if g.Eligible() {
		t.Fatal("expected 9/10 to be ineligible")
	}
	if g.LastSuggestionAt != nil {
		t.Error("expected no suggestion before eligibility")
	}
	g.RecordFeedback(true, now)
	if !g.Eligible() {
		t.Fatal("expected 10/10 to be eligible")
	}
	if g.LastSuggestionAt == nil {
		t.Error("expected suggestion timestamp once eligible")
	}

	g.CurrentLevel = MaxLevel
	if g.Eligible() {
		t.Error("expected max level to never be eligible")
	}
}

func TestGraduationRejectionResets(t *testing.T) {
	now := time.Now()
	g := NewGraduationTracking("u1", "financial", 10)
	for i := 0; i < 5; i++ {
		g.RecordFeedback(true, now)
	}
	g.RecordFeedback(false, now)
	if g.ConsecutiveApprovals != 0 {
		t.Errorf("expected reset, got %d", g.ConsecutiveApprovals)
	}
	if g.TotalApprovals != 5 || g.TotalRejections != 1 {
		t.Errorf("unexpected totals: %d/%d", g.TotalApprovals, g.TotalRejections)
	}
	if g.LastRejectionAt == nil {
		t.Error("expected last rejection timestamp")
	}
}

func TestGraduationAcceptAndDecline(t *testing.T) {
	now := time.Now()
	g := NewGraduationTracking("u1", "scheduling", 10)

	for _, want := range []int{2, 4, 8, 8} {
		g.ConsecutiveApprovals = 3
		g.Decline(now)
		if g.BackoffMultiplier != want {
			t.Fatalf("expected backoff %d, got %d", want, g.BackoffMultiplier)
		}
		if g.ConsecutiveApprovals != 0 || g.CurrentLevel != 1 {
			t.Fatalf("decline changed level or kept approvals: %+v", g)
		}
	}

	for _, want := range []int{2, 3, 4, 4} {
		g.ConsecutiveApprovals = 7
		g.Accept(now)
		if g.CurrentLevel != want {
			t.Fatalf("expected level %d, got %d", want, g.CurrentLevel)
		}
		if g.BackoffMultiplier != 1 || g.ConsecutiveApprovals != 0 {
			t.Fatalf("accept did not reset: %+v", g)
		}
	}
}

func TestToolGenomeFailureParamsFIFO(t *testing.T) {
	g := &ToolGenome{}
	for i := 0; i < MaxFailureParams+3; i++ {
		g.RecordFailure("timeout", []string{fmt.Sprintf("p%d", i)})
	}
	if g.FailurePatterns["timeout"] != MaxFailureParams+3 {
		t.Errorf("expected %d, got %d", MaxFailureParams+3, g.FailurePatterns["timeout"])
	}
	if len(g.ParameterInsights.FailureParams) != MaxFailureParams {
		t.Fatalf("expected %d entries, got %d", MaxFailureParams, len(g.ParameterInsights.FailureParams))
	}
	if first := g.ParameterInsights.FailureParams[0][0]; first != "p3" {
		t.Errorf("expected oldest surviving entry p3, got %s", first)
	}
}

func TestCorrectionText(t *testing.T) {
	c := &Correction{OriginalAction: "sent invoice", Correction: "attach receipt"}
	if c.Text() != "attach receipt sent invoice" {
		t.Errorf("unexpected text %q", c.Text())
	}
}
