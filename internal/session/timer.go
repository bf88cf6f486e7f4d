package session

import "time"

// Timer tracks recorded time for a session. Elapsed is wall-clock time
// since start minus every paused interval, and freezes while paused or
// after stop.
type Timer struct {
	now func() time.Time

	startedAt time.Time
	pausedAt  time.Time // zero while running
	stoppedAt time.Time
	paused    time.Duration
}

// NewTimer creates a timer reading time from now. A nil now uses time.Now.
func NewTimer(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{now: now}
}

// Start begins timing from zero
func (t *Timer) Start() {
	t.startedAt = t.now()
	t.pausedAt = time.Time{}
	t.stoppedAt = time.Time{}
	t.paused = 0
}

// Pause freezes elapsed time
func (t *Timer) Pause() {
	if t.startedAt.IsZero() || !t.pausedAt.IsZero() || !t.stoppedAt.IsZero() {
		return
	}
	t.pausedAt = t.now()
}

// Resume adds the interval since Pause to the paused total
func (t *Timer) Resume() {
	if t.pausedAt.IsZero() {
		return
	}
	t.paused += t.now().Sub(t.pausedAt)
	t.pausedAt = time.Time{}
}

// Stop freezes the timer for good. Stopping while paused does not count the
// open pause as recorded time.
func (t *Timer) Stop() {
	if t.startedAt.IsZero() || !t.stoppedAt.IsZero() {
		return
	}
	t.Resume()
	t.stoppedAt = t.now()
}

// StartedAt returns when Start was called
func (t *Timer) StartedAt() time.Time {
	return t.startedAt
}

// Elapsed returns recorded time
func (t *Timer) Elapsed() time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}

	end := t.now()
	switch {
	case !t.stoppedAt.IsZero():
		end = t.stoppedAt
	case !t.pausedAt.IsZero():
		end = t.pausedAt
	}

	elapsed := end.Sub(t.startedAt) - t.paused
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Paused returns the total paused time, including an open pause
func (t *Timer) Paused() time.Duration {
	total := t.paused
	if !t.pausedAt.IsZero() {
		total += t.now().Sub(t.pausedAt)
	}
	return total
}
