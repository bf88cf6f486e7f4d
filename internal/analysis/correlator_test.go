package analysis

import (
	"testing"

	"github.com/therassist/session-coordinator/internal/domain"
)

func comprehensive(job domain.JobID, rationale string) domain.ComprehensiveResult {
	return domain.ComprehensiveResult{
		Job:       job,
		Guidance:  &domain.PathwayGuidance{Rationale: rationale},
		Citations: []domain.Citation{{Number: 1, Title: "CBT Manual"}},
	}
}

func TestCorrelator_AcceptsAwaitedJob(t *testing.T) {
	c := NewCorrelator()
	c.Dispatched(1)
	c.AlertAccepted(1)

	if job, ok := c.Awaiting(); !ok || job != 1 {
		t.Fatalf("Expected awaiting job 1, got %d %v", job, ok)
	}

	if outcome := c.Comprehensive(comprehensive(1, "keep going")); outcome != OutcomeAccepted {
		t.Fatalf("Expected accepted, got %s", outcome)
	}

	view := c.View()
	if view.Phase != domain.AwaitDisplayed || view.Job != 1 {
		t.Errorf("Expected displayed job 1, got %s %d", view.Phase, view.Job)
	}
	if view.Guidance == nil || view.Guidance.Rationale != "keep going" || len(view.Citations) != 1 {
		t.Errorf("Expected guidance and citations replaced, got %+v", view)
	}
	if _, ok := c.Awaiting(); ok {
		t.Error("Expected waiting marker cleared")
	}
}

func TestCorrelator_StaleDiscarded(t *testing.T) {
	c := NewCorrelator()
	c.Dispatched(1)
	c.AlertAccepted(1)
	c.Dispatched(2)

	before := c.View()
	if outcome := c.Comprehensive(comprehensive(1, "stale")); outcome != OutcomeDiscarded {
		t.Errorf("Expected stale job 1 discarded, got %s", outcome)
	}
	after := c.View()
	if after.Guidance != before.Guidance || after.Phase != before.Phase {
		t.Error("Expected pathway state unchanged by stale response")
	}
}

func TestCorrelator_NewerAcceptedBeforeOlder(t *testing.T) {
	c := NewCorrelator()
	c.Dispatched(1)
	c.Dispatched(2)
	c.AlertAccepted(2)

	if outcome := c.Comprehensive(comprehensive(2, "newer")); outcome != OutcomeAccepted {
		t.Errorf("Expected job 2 accepted, got %s", outcome)
	}
	if outcome := c.Comprehensive(comprehensive(1, "older")); outcome != OutcomeDiscarded {
		t.Errorf("Expected late job 1 discarded, got %s", outcome)
	}
	if c.View().Guidance.Rationale != "newer" {
		t.Error("Expected newer guidance to remain")
	}
}

func TestCorrelator_AlertClearsGuidance(t *testing.T) {
	c := NewCorrelator()
	c.Dispatched(1)
	c.AlertAccepted(1)
	c.Comprehensive(comprehensive(1, "first"))

	c.Dispatched(2)
	c.AlertAccepted(2)

	view := c.View()
	if view.Guidance != nil || view.Citations != nil {
		t.Error("Expected new alert to clear displayed guidance and citations")
	}
	if view.Phase != domain.AwaitPending || view.Job != 2 || view.RealtimeJob != 2 {
		t.Errorf("Expected awaiting job 2, got %+v", view)
	}
}

func TestCorrelator_ParksEarlyResult(t *testing.T) {
	c := NewCorrelator()
	c.Dispatched(1)

	if outcome := c.Comprehensive(comprehensive(1, "early")); outcome != OutcomeParked {
		t.Fatalf("Expected early result parked, got %s", outcome)
	}
	if c.View().Guidance != nil {
		t.Error("Expected parked result not displayed yet")
	}

	applied, ok := c.AlertAccepted(1)
	if !ok || applied.Job != 1 {
		t.Fatal("Expected parked result applied on alert acceptance")
	}
	if view := c.View(); view.Phase != domain.AwaitDisplayed || view.Guidance.Rationale != "early" {
		t.Errorf("Expected parked guidance displayed, got %+v", view)
	}
}

func TestCorrelator_ParkedDroppedOnDispatch(t *testing.T) {
	c := NewCorrelator()
	c.Dispatched(1)
	c.Comprehensive(comprehensive(1, "early"))
	c.Dispatched(2)

	if _, ok := c.AlertAccepted(2); ok {
		t.Error("Expected parked result for job 1 dropped by dispatch of job 2")
	}
}

func TestCorrelator_StaleAlertKeepsMarker(t *testing.T) {
	c := NewCorrelator()
	c.Dispatched(1)
	c.Dispatched(2)
	c.AlertAccepted(2)
	c.AlertAccepted(1)

	if job, ok := c.Awaiting(); !ok || job != 2 {
		t.Errorf("Expected awaiting job 2 after stale alert, got %d %v", job, ok)
	}
}

func TestCorrelator_Expire(t *testing.T) {
	c := NewCorrelator()
	c.Dispatched(1)
	c.AlertAccepted(1)

	if c.Expire(2) {
		t.Error("Expected expiry of a job that is not awaited to be ignored")
	}
	if !c.Expire(1) {
		t.Fatal("Expected awaited job to expire")
	}
	if c.View().Phase != domain.AwaitExpired {
		t.Errorf("Expected expired phase, got %s", c.View().Phase)
	}
	if outcome := c.Comprehensive(comprehensive(1, "late")); outcome != OutcomeDiscarded {
		t.Errorf("Expected result after expiry discarded, got %s", outcome)
	}

	c.Reset()
	if view := c.View(); view.Phase != domain.AwaitNone || view.Job != 0 {
		t.Errorf("Expected reset view, got %+v", view)
	}
}
