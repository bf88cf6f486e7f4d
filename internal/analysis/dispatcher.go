package analysis

import (
	"sort"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
)

// SideState is the progress of one request of a job pair
type SideState string

const (
	SidePending SideState = "pending"
	SideDone    SideState = "done"
	SideFailed  SideState = "failed"
)

// Job is the bookkeeping for one dispatched request pair
type Job struct {
	ID            domain.JobID `json:"job_id"`
	Manual        bool         `json:"manual"`
	DispatchedAt  time.Time    `json:"dispatched_at"`
	Realtime      SideState    `json:"realtime"`
	Comprehensive SideState    `json:"comprehensive"`
}

// Settled reports whether both requests have finished
func (j Job) Settled() bool {
	return j.Realtime != SidePending && j.Comprehensive != SidePending
}

const maxTrackedJobs = 32

// Dispatcher decides when to analyse and allocates job ids. It is owned by
// the session loop and is not safe for concurrent use.
type Dispatcher struct {
	threshold int
	window    time.Duration

	words int
	last  domain.JobID
	jobs  map[domain.JobID]*Job
}

// NewDispatcher creates a dispatcher that fires every threshold new final
// words and sends the trailing window of transcript.
func NewDispatcher(threshold int, window time.Duration) *Dispatcher {
	if threshold <= 0 {
		threshold = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Dispatcher{
		threshold: threshold,
		window:    window,
		jobs:      make(map[domain.JobID]*Job),
	}
}

// Window is the transcript span sent with each job
func (d *Dispatcher) Window() time.Duration {
	return d.window
}

// AddWords counts newly finalized words and reports whether the threshold
// has been reached. The caller dispatches when it returns true.
func (d *Dispatcher) AddWords(n int) bool {
	if n <= 0 {
		return false
	}
	d.words += n
	return d.words >= d.threshold
}

// Words is the running count since the last dispatch
func (d *Dispatcher) Words() int {
	return d.words
}

// Next allocates the next job id and resets the word counter. Overflow past
// the threshold is discarded, not carried over.
func (d *Dispatcher) Next(manual bool, now time.Time) Job {
	d.words = 0
	d.last++

	job := &Job{
		ID:            d.last,
		Manual:        manual,
		DispatchedAt:  now,
		Realtime:      SidePending,
		Comprehensive: SidePending,
	}
	d.jobs[job.ID] = job
	d.prune()
	return *job
}

// Latest is the most recently dispatched job, zero before the first
func (d *Dispatcher) Latest() domain.JobID {
	return d.last
}

// Complete records the outcome of one side. The sibling is untouched.
func (d *Dispatcher) Complete(id domain.JobID, kind domain.AnalysisKind, err error) {
	job, ok := d.jobs[id]
	if !ok {
		return
	}
	state := SideDone
	if err != nil {
		state = SideFailed
	}
	switch kind {
	case domain.AnalysisRealtime:
		job.Realtime = state
	case domain.AnalysisComprehensive:
		job.Comprehensive = state
	}
}

// Job returns the bookkeeping for id
func (d *Dispatcher) Job(id domain.JobID) (Job, bool) {
	job, ok := d.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// InFlight returns jobs with at least one pending side, oldest first
func (d *Dispatcher) InFlight() []Job {
	var jobs []Job
	for _, job := range d.jobs {
		if !job.Settled() {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Reset clears all state for a new session
func (d *Dispatcher) Reset() {
	d.words = 0
	d.last = 0
	d.jobs = make(map[domain.JobID]*Job)
}

// prune forgets the oldest jobs beyond the tracking limit
func (d *Dispatcher) prune() {
	if len(d.jobs) <= maxTrackedJobs {
		return
	}
	for id := range d.jobs {
		if id <= d.last-maxTrackedJobs {
			delete(d.jobs, id)
		}
	}
}

// Snapshot is the session state a job is built from, captured by value at
// dispatch time
type Snapshot struct {
	Segment       []domain.TranscriptLine
	Context       domain.SessionContext
	Elapsed       time.Duration
	PreviousAlert *domain.Alert
}

// Requests builds both requests of a job from the snapshot
func (s Snapshot) Requests(job domain.JobID) (realtime, comprehensive domain.AnalysisRequest) {
	minutes := s.Elapsed.Minutes()
	base := domain.AnalysisRequest{
		Job:                    job,
		Segment:                s.Segment,
		Context:                s.Context,
		Phase:                  Phase(minutes),
		SessionDurationMinutes: minutes,
	}
	if s.PreviousAlert != nil {
		prev := *s.PreviousAlert
		base.PreviousAlert = &prev
	}

	realtime = base
	realtime.Kind = domain.AnalysisRealtime
	comprehensive = base
	comprehensive.Kind = domain.AnalysisComprehensive
	return realtime, comprehensive
}

// Phase names the therapy phase for a session duration in minutes
func Phase(minutes float64) string {
	switch {
	case minutes <= 10:
		return "beginning"
	case minutes <= 40:
		return "middle"
	default:
		return "end"
	}
}
