package session

import (
	"time"

	"github.com/therassist/session-coordinator/internal/analysis"
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/transcript"
)

// transportEvent applies one decoded event. Transcript from any generation
// of the current session is kept, so trailing finals delivered during a
// close still land; connection state only follows the current generation.
func (c *Controller) transportEvent(s *sessionState, g *generation, event domain.TransportEvent) {
	if c.sess != s {
		return
	}

	switch e := event.(type) {
	case domain.ReadyEvent:
		s.logger.Debug().Int("generation", g.seq).Msg("Transcription ready")

	case domain.TranscriptEvent:
		c.appendTranscript(s, e)

	case domain.SpeechEvent:
		c.speechActivity(s, e)

	case domain.TransportErrorEvent:
		s.logger.Warn().Str("error", e.Message).Int("generation", g.seq).Msg("Transcription stream error")
		s.stats.RecordError("transport", "transport")
		if s.gen != g || g.halted() || s.conn == domain.ConnectionDisconnected {
			return
		}
		s.conn = domain.ConnectionDisconnected
		c.sink.SessionError(domain.ErrorCodeTransport, e.Message)
		c.emitStatus(s)
	}
}

func (c *Controller) speechActivity(s *sessionState, event domain.SpeechEvent) {
	if c.sess != s {
		return
	}
	c.sink.SpeechActivity(event)
}

func (c *Controller) appendTranscript(s *sessionState, event domain.TranscriptEvent) {
	s.stats.RecordTranscript(event.IsFinal)

	entry, words, ok := s.transcript.Append(event, c.opts.Now())
	if !ok {
		return
	}
	c.sink.TranscriptChanged(entry)

	if s.state == domain.SessionStateStopped {
		return
	}
	if s.dispatcher.AddWords(words) {
		c.dispatch(s, false)
	}
}

// dispatch snapshots the session by value and sends both requests of a new
// job. Nothing the requests carry is read after this returns.
func (c *Controller) dispatch(s *sessionState, manual bool) domain.JobID {
	now := c.opts.Now()
	job := s.dispatcher.Next(manual, now)
	s.correlator.Dispatched(job.ID)

	snap := analysis.Snapshot{
		Segment:       transcript.Lines(s.transcript.Window(s.dispatcher.Window(), now)),
		Context:       s.context,
		Elapsed:       s.timer.Elapsed(),
		PreviousAlert: s.dedup.Latest(),
	}
	realtime, comprehensive := snap.Requests(job.ID)

	s.stats.RecordDispatch(manual)
	s.logger.Info().
		Int64("job_id", int64(job.ID)).
		Bool("manual", manual).
		Int("segment_lines", len(snap.Segment)).
		Str("phase", realtime.Phase).
		Msg("Dispatching analysis job")

	go c.request(s, realtime)
	go c.request(s, comprehensive)
	return job.ID
}

func (c *Controller) request(s *sessionState, req domain.AnalysisRequest) {
	started := time.Now()
	err := c.analysis.Analyze(c.ctx, req, func(result domain.AnalysisResult) {
		c.post(func() { c.analysisResult(s, result) })
	})
	s.stats.RecordAnalysis(string(req.Kind), started, err == nil)
	c.post(func() { c.analysisDone(s, req, err) })
}

// analysisDone settles one side of a job. Failures stop here: the sibling
// request is untouched and the next trigger retries naturally.
func (c *Controller) analysisDone(s *sessionState, req domain.AnalysisRequest, err error) {
	if c.sess != s {
		return
	}
	s.dispatcher.Complete(req.Job, req.Kind, err)
	if err != nil {
		s.stats.RecordError("analysis_request", string(req.Kind))
		s.logger.Warn().
			Err(err).
			Int64("job_id", int64(req.Job)).
			Str("kind", string(req.Kind)).
			Msg("Analysis request failed")
	}
}

func (c *Controller) analysisResult(s *sessionState, result domain.AnalysisResult) {
	if c.sess != s || s.state == domain.SessionStateStopped {
		return
	}

	switch r := result.(type) {
	case domain.RealtimeResult:
		c.realtimeResult(s, r)
	case domain.ComprehensiveResult:
		c.comprehensiveResult(s, r)
	}
}

func (c *Controller) realtimeResult(s *sessionState, r domain.RealtimeResult) {
	if r.Metrics != nil {
		c.mergeMetrics(s, *r.Metrics)
	}
	if r.Alert == nil {
		return
	}

	now := c.opts.Now()
	alert := domain.Alert{
		Category:       r.Alert.Category,
		Timing:         r.Alert.Timing,
		Title:          r.Alert.Title,
		Message:        r.Alert.Message,
		Recommendation: r.Alert.Recommendation,
		Evidence:       r.Alert.Evidence,
		Job:            r.Job,
		CreatedAt:      now,
	}

	if !s.dedup.Offer(alert, now) {
		s.stats.RecordAlert(string(alert.Category), false)
		s.logger.Debug().Int64("job_id", int64(r.Job)).Str("title", alert.Title).Msg("Suppressed duplicate alert")
		return
	}
	s.stats.RecordAlert(string(alert.Category), true)
	s.logger.Info().
		Int64("job_id", int64(r.Job)).
		Str("category", string(alert.Category)).
		Str("timing", string(alert.Timing)).
		Str("title", alert.Title).
		Msg("Alert shown")
	c.sink.AlertsChanged(s.dedup.Visible())

	if parked, ok := s.correlator.AlertAccepted(r.Job); ok {
		c.stopAwaitTimer(s)
		s.stats.RecordResult(string(domain.AnalysisComprehensive), string(analysis.OutcomeAccepted))
		if parked.Metrics != nil {
			c.mergeMetrics(s, *parked.Metrics)
		}
	} else if job, waiting := s.correlator.Awaiting(); waiting && job == r.Job {
		c.armAwaitTimer(s, job)
	}
	c.sink.GuidanceChanged(s.correlator.View())
}

func (c *Controller) comprehensiveResult(s *sessionState, r domain.ComprehensiveResult) {
	outcome := s.correlator.Comprehensive(r)
	s.stats.RecordResult(string(domain.AnalysisComprehensive), string(outcome))

	switch outcome {
	case analysis.OutcomeAccepted:
		c.stopAwaitTimer(s)
		if r.Metrics != nil {
			c.mergeMetrics(s, *r.Metrics)
		}
		s.logger.Info().Int64("job_id", int64(r.Job)).Int("citations", len(r.Citations)).Msg("Comprehensive guidance updated")
		c.sink.GuidanceChanged(s.correlator.View())
	case analysis.OutcomeParked:
		s.logger.Debug().Int64("job_id", int64(r.Job)).Msg("Comprehensive result arrived before its alert")
	default:
		s.logger.Debug().Int64("job_id", int64(r.Job)).Msg("Discarded stale comprehensive result")
	}
}

func (c *Controller) mergeMetrics(s *sessionState, m domain.SessionMetrics) {
	s.metrics = s.metrics.Merge(m)
	c.sink.MetricsChanged(s.metrics)
}

func (c *Controller) armAwaitTimer(s *sessionState, job domain.JobID) {
	c.stopAwaitTimer(s)
	if c.opts.AwaitTimeout <= 0 {
		return
	}
	s.awaitTimer = time.AfterFunc(c.opts.AwaitTimeout, func() {
		c.post(func() { c.awaitExpired(s, job) })
	})
}

func (c *Controller) stopAwaitTimer(s *sessionState) {
	if s.awaitTimer != nil {
		s.awaitTimer.Stop()
		s.awaitTimer = nil
	}
}

func (c *Controller) awaitExpired(s *sessionState, job domain.JobID) {
	if c.sess != s || !s.correlator.Expire(job) {
		return
	}
	s.stats.RecordResult(string(domain.AnalysisComprehensive), "expired")
	s.logger.Warn().Int64("job_id", int64(job)).Dur("timeout", c.opts.AwaitTimeout).Msg("Comprehensive guidance did not arrive")
	c.sink.GuidanceChanged(s.correlator.View())
}
