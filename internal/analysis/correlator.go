package analysis

import (
	"github.com/therassist/session-coordinator/internal/domain"
)

// Outcome is what the correlator did with a comprehensive result
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeParked    Outcome = "parked"
	OutcomeDiscarded Outcome = "discarded"
)

// Correlator matches comprehensive results to the real-time alert that is
// on screen. The await phase and its job travel together, so "awaiting"
// and "displayed" can never name different jobs. Owned by the session loop.
type Correlator struct {
	phase       domain.AwaitPhase
	job         domain.JobID // job of the current phase
	realtimeJob domain.JobID // job of the last accepted alert
	latest      domain.JobID // last dispatched job

	guidance   *domain.PathwayGuidance
	indicators *domain.PathwayIndicators
	citations  []domain.Citation

	// at most one early comprehensive result for the latest job
	parked *domain.ComprehensiveResult
}

// NewCorrelator creates a correlator with nothing awaited
func NewCorrelator() *Correlator {
	return &Correlator{phase: domain.AwaitNone}
}

// Dispatched records a new job. A parked result for an older job is
// dropped.
func (c *Correlator) Dispatched(job domain.JobID) {
	if job > c.latest {
		c.latest = job
	}
	if c.parked != nil && c.parked.Job != c.latest {
		c.parked = nil
	}
}

// AlertAccepted moves the await marker to job and clears stale guidance. It
// returns the parked result for job if one was applied. Alerts from
// superseded jobs leave the marker alone, since their comprehensive side
// can no longer be accepted.
func (c *Correlator) AlertAccepted(job domain.JobID) (*domain.ComprehensiveResult, bool) {
	if job < c.latest {
		return nil, false
	}

	c.realtimeJob = job
	c.phase = domain.AwaitPending
	c.job = job
	c.guidance = nil
	c.indicators = nil
	c.citations = nil

	if c.parked != nil && c.parked.Job == job {
		parked := c.parked
		c.parked = nil
		c.apply(*parked)
		return parked, true
	}
	return nil, false
}

// Comprehensive offers a comprehensive result
func (c *Correlator) Comprehensive(result domain.ComprehensiveResult) Outcome {
	switch {
	case result.Job != c.latest:
		return OutcomeDiscarded
	case c.phase == domain.AwaitPending && c.job == result.Job:
		c.apply(result)
		return OutcomeAccepted
	case c.realtimeJob < result.Job:
		// The matching alert has not been accepted yet
		parked := result
		c.parked = &parked
		return OutcomeParked
	default:
		return OutcomeDiscarded
	}
}

// Expire gives up on job if it is still awaited
func (c *Correlator) Expire(job domain.JobID) bool {
	if c.phase != domain.AwaitPending || c.job != job {
		return false
	}
	c.phase = domain.AwaitExpired
	return true
}

// Awaiting returns the awaited job, if any
func (c *Correlator) Awaiting() (domain.JobID, bool) {
	return c.job, c.phase == domain.AwaitPending
}

// View returns the comprehensive-path state for display
func (c *Correlator) View() domain.GuidanceView {
	view := domain.GuidanceView{
		Phase:       c.phase,
		RealtimeJob: c.realtimeJob,
		Guidance:    c.guidance,
		Indicators:  c.indicators,
	}
	if c.phase != domain.AwaitNone {
		view.Job = c.job
	}
	if len(c.citations) > 0 {
		view.Citations = make([]domain.Citation, len(c.citations))
		copy(view.Citations, c.citations)
	}
	return view
}

// Reset clears all state for a new session
func (c *Correlator) Reset() {
	*c = Correlator{phase: domain.AwaitNone}
}

func (c *Correlator) apply(result domain.ComprehensiveResult) {
	c.phase = domain.AwaitDisplayed
	c.job = result.Job
	c.guidance = result.Guidance
	c.indicators = result.Indicators
	c.citations = result.Citations
}
