package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/therassist/session-coordinator/internal/analysis"
	"github.com/therassist/session-coordinator/internal/config"
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/ports"
	"github.com/therassist/session-coordinator/internal/transcript"
)

// ErrClosed is returned by calls made after Close
var ErrClosed = errors.New("session controller closed")

// closeSlack bounds a connection close beyond its grace delay
const closeSlack = 5 * time.Second

// Options tunes a Controller
type Options struct {
	WordThreshold int
	Window        time.Duration
	AwaitTimeout  time.Duration // zero waits forever for comprehensive guidance
	Dedup         analysis.DedupConfig
	CloseGrace    time.Duration
	Tick          time.Duration // elapsed refresh while recording

	// Declared in the handshake when a pipeline has no encoder
	AuthToken  string
	SampleRate int
	Encoding   string

	// Fills fields a start request leaves empty
	DefaultContext domain.SessionContext

	// Now must be safe for concurrent use. nil uses time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps process configuration onto controller options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WordThreshold: cfg.AnalysisWordThreshold,
		Window:        cfg.AnalysisWindow(),
		AwaitTimeout:  time.Duration(cfg.ComprehensiveTimeout) * time.Second,
		Dedup: analysis.DedupConfig{
			MaxVisible: cfg.AlertMaxVisible,
			Recency:    time.Duration(cfg.AlertRecencyWindow) * time.Second,
			Similarity: cfg.AlertSimilarity,
		},
		CloseGrace: cfg.CloseGrace(),
		Tick:       time.Duration(cfg.ElapsedTickMs) * time.Millisecond,
		AuthToken:  cfg.TranscriptionAuthToken,
		SampleRate: cfg.TransportRate,
		Encoding:   cfg.Encoding,
		DefaultContext: domain.SessionContext{
			SessionType:     cfg.SessionType,
			PrimaryConcern:  cfg.PrimaryConcern,
			CurrentApproach: cfg.CurrentApproach,
		},
	}
}

// Snapshot is the full observable state of the current session
type Snapshot struct {
	Status     domain.Status            `json:"status"`
	Context    domain.SessionContext    `json:"context"`
	Transcript []domain.TranscriptEntry `json:"transcript"`
	Alerts     []domain.Alert           `json:"alerts"`
	Guidance   domain.GuidanceView      `json:"guidance"`
	Metrics    domain.SessionMetrics    `json:"metrics"`
	Words      int                      `json:"words_since_dispatch"`
	LatestJob  domain.JobID             `json:"latest_job_id"`
	InFlight   []analysis.Job           `json:"in_flight,omitempty"`
	Summary    *domain.Summary          `json:"summary,omitempty"`
}

// Controller coordinates one session at a time. Every piece of session
// state is owned by a single loop goroutine; public methods and async
// completions hand it closures through the inbox, so handlers run to
// completion one after another.
type Controller struct {
	opts     Options
	factory  PipelineFactory
	analysis ports.AnalysisClient
	sink     ports.EventSink
	logger   zerolog.Logger

	// Control
	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Loop-owned
	sess    *sessionState
	lastGen *generation
	genSeq  int
}

// sessionState is everything a session owns. It is replaced, never
// cleared, on the next start.
type sessionState struct {
	id       string
	mode     domain.CaptureMode
	context  domain.SessionContext
	state    domain.SessionState
	conn     domain.ConnectionState
	pipeline *Pipeline
	timer    *Timer
	gen      *generation

	transcript *transcript.Accumulator
	dispatcher *analysis.Dispatcher
	dedup      *analysis.Deduplicator
	correlator *analysis.Correlator
	metrics    domain.SessionMetrics
	awaitTimer *time.Timer

	summaryRequested bool
	summary          *domain.Summary
	summaryErr       error
	summaryDone      chan struct{}

	ended       chan struct{}
	endedClosed bool
	quit        chan struct{} // closed on stop

	stats  *observability.Metrics
	logger zerolog.Logger
}

func (s *sessionState) live() bool {
	return s.state == domain.SessionStateRecording || s.state == domain.SessionStatePaused
}

// NewController creates a controller and starts its loop. sink may be nil.
func NewController(opts Options, factory PipelineFactory, client ports.AnalysisClient, sink ports.EventSink) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.CloseGrace < 0 {
		opts.CloseGrace = 0
	}
	if sink == nil {
		sink = nopSink{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:     opts,
		factory:  factory,
		analysis: client,
		sink:     sink,
		logger:   observability.GetLogger().With().Str("component", "session").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan func(), 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-ticker.C:
			if s := c.sess; s != nil && s.state == domain.SessionStateRecording {
				c.emitStatus(s)
			}
		case <-c.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for its result
func (c *Controller) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- func() { reply <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrClosed
	}
}

// post queues fn from an async completion. It is dropped once the
// controller is closed.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.quit:
	}
}

// Start acquires capture, opens the transport and begins recording. All
// per-session state starts empty. A capture failure leaves no session
// recording; a transport failure does not fail the start.
func (c *Controller) Start(ctx context.Context, req StartRequest) (domain.Status, error) {
	var status domain.Status
	err := c.do(ctx, func() error {
		if s := c.sess; s != nil && s.live() {
			return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidTransition, s.id, s.state)
		}

		pipeline, err := c.factory.Build(req)
		if err != nil {
			c.logger.Error().Err(err).Str("mode", string(req.Mode)).Msg("Failed to build capture pipeline")
			c.sink.SessionError(domain.ErrorCodeCapture, err.Error())
			return err
		}

		s := c.newSession(req, pipeline)
		frames, err := pipeline.Source.Start(c.ctx)
		if err != nil {
			_ = pipeline.Source.Stop()
			s.logger.Error().Err(err).Msg("Capture unavailable")
			s.stats.RecordError("capture_unavailable", "capture")
			c.sink.SessionError(domain.ErrorCodeCapture, err.Error())
			return err
		}

		c.sess = s
		s.timer.Start()
		s.stats.RecordSessionStart()
		s.logger.Info().Str("source", req.Source).Msg("Session started")

		c.sink.AlertsChanged(s.dedup.Visible())
		c.sink.GuidanceChanged(s.correlator.View())
		c.sink.MetricsChanged(s.metrics)

		c.openGeneration(s, frames)
		c.watchFinished(s)
		c.transition(s, domain.SessionStateRecording)
		status = c.status(s)
		return nil
	})
	return status, err
}

// Pause freezes elapsed time and tears down the transport and capture
// generation
func (c *Controller) Pause(ctx context.Context) (domain.Status, error) {
	var status domain.Status
	err := c.do(ctx, func() error {
		s, err := c.current()
		if err != nil {
			return err
		}
		if s.state != domain.SessionStateRecording {
			return fmt.Errorf("%w: cannot pause while %s", domain.ErrInvalidTransition, s.state)
		}

		s.timer.Pause()
		c.haltGeneration(s)
		if err := s.pipeline.Source.Pause(); err != nil {
			s.logger.Warn().Err(err).Msg("Capture pause failed")
		}
		s.conn = domain.ConnectionDisconnected
		s.logger.Info().Dur("elapsed", s.timer.Elapsed()).Msg("Session paused")

		c.transition(s, domain.SessionStatePaused)
		status = c.status(s)
		return nil
	})
	return status, err
}

// Resume re-acquires capture from its mode-specific position and opens a
// fresh transport generation
func (c *Controller) Resume(ctx context.Context) (domain.Status, error) {
	var status domain.Status
	err := c.do(ctx, func() error {
		s, err := c.current()
		if err != nil {
			return err
		}
		if s.state != domain.SessionStatePaused {
			return fmt.Errorf("%w: cannot resume while %s", domain.ErrInvalidTransition, s.state)
		}

		frames, err := s.pipeline.Source.Start(c.ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Capture unavailable on resume")
			s.stats.RecordError("capture_unavailable", "capture")
			c.sink.SessionError(domain.ErrorCodeCapture, err.Error())
			return err
		}

		s.timer.Resume()
		c.openGeneration(s, frames)
		s.logger.Info().Dur("paused", s.timer.Paused()).Msg("Session resumed")

		c.transition(s, domain.SessionStateRecording)
		status = c.status(s)
		return nil
	})
	return status, err
}

// Stop tears everything down. Once the last transport generation has
// delivered its trailing finals, a session summary is requested if any
// final transcript exists.
func (c *Controller) Stop(ctx context.Context) (domain.Status, error) {
	var status domain.Status
	err := c.do(ctx, func() error {
		s, err := c.current()
		if err != nil {
			return err
		}
		if !s.live() {
			return fmt.Errorf("%w: session already %s", domain.ErrInvalidTransition, s.state)
		}
		c.stop(s)
		status = c.status(s)
		return nil
	})
	return status, err
}

func (c *Controller) stop(s *sessionState) {
	s.timer.Stop()
	c.haltGeneration(s)
	if err := s.pipeline.Source.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Capture stop failed")
	}
	c.stopAwaitTimer(s)
	close(s.quit)

	s.summaryRequested = true
	s.stats.RecordSessionEnd(s.timer.Elapsed())
	s.logger.Info().
		Dur("elapsed", s.timer.Elapsed()).
		Dur("paused", s.timer.Paused()).
		Int("entries", s.transcript.Len()).
		Msg("Session stopped")

	c.transition(s, domain.SessionStateStopped)
	if s.gen == nil || s.gen.closed {
		c.summarize(s)
	}
}

// AnalyzeNow dispatches a job immediately through the same path as the
// word-count trigger
func (c *Controller) AnalyzeNow(ctx context.Context) (domain.JobID, error) {
	var job domain.JobID
	err := c.do(ctx, func() error {
		s, err := c.current()
		if err != nil {
			return err
		}
		if !s.live() {
			return fmt.Errorf("%w: cannot analyze while %s", domain.ErrInvalidTransition, s.state)
		}
		job = c.dispatch(s, true)
		return nil
	})
	return job, err
}

// Seek moves a position-tracking capture source. While paused only the
// resume point moves.
func (c *Controller) Seek(ctx context.Context, offset time.Duration) error {
	return c.do(ctx, func() error {
		s, err := c.current()
		if err != nil {
			return err
		}
		if !s.live() {
			return fmt.Errorf("%w: cannot seek while %s", domain.ErrInvalidTransition, s.state)
		}
		seeker, ok := s.pipeline.Source.(ports.Seeker)
		if !ok {
			return fmt.Errorf("%w: %s capture cannot seek", domain.ErrInvalidTransition, s.mode)
		}
		if err := seeker.Seek(offset); err != nil {
			return err
		}
		s.logger.Info().Dur("offset", offset).Msg("Capture position moved")
		return nil
	})
}

// Status returns the lifecycle status, idle when no session has started
func (c *Controller) Status(ctx context.Context) (domain.Status, error) {
	status := idleStatus()
	err := c.do(ctx, func() error {
		if c.sess != nil {
			status = c.status(c.sess)
		}
		return nil
	})
	return status, err
}

// Snapshot returns a copy of the current session state
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Status: idleStatus()}
	err := c.do(ctx, func() error {
		s := c.sess
		if s == nil {
			return nil
		}
		snap = Snapshot{
			Status:     c.status(s),
			Context:    s.context,
			Transcript: s.transcript.Entries(),
			Alerts:     s.dedup.Visible(),
			Guidance:   s.correlator.View(),
			Metrics:    s.metrics,
			Words:      s.dispatcher.Words(),
			LatestJob:  s.dispatcher.Latest(),
			InFlight:   s.dispatcher.InFlight(),
			Summary:    s.summary,
		}
		return nil
	})
	return snap, err
}

// Ended returns a channel closed when the current session's source plays
// out, at the end of a file or script
func (c *Controller) Ended(ctx context.Context) (<-chan struct{}, error) {
	var ended <-chan struct{}
	err := c.do(ctx, func() error {
		if c.sess == nil {
			return domain.ErrNoActiveSession
		}
		ended = c.sess.ended
		return nil
	})
	return ended, err
}

// WaitSummary blocks until the stopped session's summary has settled. It
// returns nil without error when there was no final transcript.
func (c *Controller) WaitSummary(ctx context.Context) (*domain.Summary, error) {
	var s *sessionState
	err := c.do(ctx, func() error {
		if c.sess == nil {
			return domain.ErrNoActiveSession
		}
		if c.sess.state != domain.SessionStateStopped {
			return fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, c.sess.state)
		}
		s = c.sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-s.summaryDone:
		return s.summary, s.summaryErr
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, ErrClosed
	}
}

// Close stops a live session, waits for its transport to wind down and
// ends the loop. In-flight analysis requests are cancelled.
func (c *Controller) Close(ctx context.Context) error {
	var last *generation
	err := c.do(ctx, func() error {
		if s := c.sess; s != nil && s.live() {
			c.stop(s)
		}
		last = c.lastGen
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}

	if last != nil {
		select {
		case <-last.done:
		case <-ctx.Done():
		}
	}

	c.closeOnce.Do(func() {
		close(c.quit)
		c.cancel()
	})
	<-c.done
	return err
}

func (c *Controller) current() (*sessionState, error) {
	if c.sess == nil {
		return nil, domain.ErrNoActiveSession
	}
	return c.sess, nil
}

func (c *Controller) newSession(req StartRequest, pipeline *Pipeline) *sessionState {
	id := uuid.New().String()

	sctx := req.Context
	if sctx.SessionType == "" {
		sctx.SessionType = c.opts.DefaultContext.SessionType
	}
	if sctx.PrimaryConcern == "" {
		sctx.PrimaryConcern = c.opts.DefaultContext.PrimaryConcern
	}
	if sctx.CurrentApproach == "" {
		sctx.CurrentApproach = c.opts.DefaultContext.CurrentApproach
	}

	return &sessionState{
		id:          id,
		mode:        req.Mode,
		context:     sctx,
		state:       domain.SessionStateIdle,
		conn:        domain.ConnectionDisconnected,
		pipeline:    pipeline,
		timer:       NewTimer(c.opts.Now),
		transcript:  transcript.NewAccumulator(),
		dispatcher:  analysis.NewDispatcher(c.opts.WordThreshold, c.opts.Window),
		dedup:       analysis.NewDeduplicator(c.opts.Dedup),
		correlator:  analysis.NewCorrelator(),
		summaryDone: make(chan struct{}),
		ended:       make(chan struct{}),
		quit:        make(chan struct{}),
		stats:       observability.NewSessionMetrics(id),
		logger:      observability.WithSession(id).With().Str("mode", string(req.Mode)).Logger(),
	}
}

func (c *Controller) transition(s *sessionState, state domain.SessionState) {
	s.state = state
	s.stats.RecordState(string(state))
	c.emitStatus(s)
}

func (c *Controller) emitStatus(s *sessionState) {
	c.sink.SessionStateChanged(c.status(s))
}

func (c *Controller) status(s *sessionState) domain.Status {
	return domain.Status{
		SessionID:  s.id,
		State:      s.state,
		Mode:       s.mode,
		Connection: s.conn,
		StartedAt:  s.timer.StartedAt(),
		Elapsed:    s.timer.Elapsed(),
		Paused:     s.timer.Paused(),
	}
}

func idleStatus() domain.Status {
	return domain.Status{
		State:      domain.SessionStateIdle,
		Connection: domain.ConnectionDisconnected,
	}
}

// watchFinished reports the end of sources that signal it out of band
func (c *Controller) watchFinished(s *sessionState) {
	finished := s.pipeline.Finished
	if finished == nil {
		return
	}
	go func() {
		select {
		case <-finished:
			c.post(func() { c.sourceEnded(s) })
		case <-s.quit:
		}
	}()
}

func (c *Controller) sourceEnded(s *sessionState) {
	if c.sess != s || s.endedClosed {
		return
	}
	s.endedClosed = true
	close(s.ended)
	s.logger.Info().Msg("Capture source played out")
}

func (c *Controller) summarize(s *sessionState) {
	if !s.summaryRequested {
		return
	}
	s.summaryRequested = false

	if !s.transcript.HasFinal() {
		s.logger.Info().Msg("No final transcript, skipping session summary")
		close(s.summaryDone)
		return
	}

	req := domain.SummaryRequest{
		FullTranscript:  transcript.Lines(s.transcript.Finals()),
		Metrics:         s.metrics,
		DurationMinutes: s.timer.Elapsed().Minutes(),
	}
	s.logger.Info().Int("lines", len(req.FullTranscript)).Msg("Requesting session summary")

	go func() {
		summary, err := c.analysis.Summarize(c.ctx, req)
		c.post(func() { c.summaryReady(s, summary, err) })
	}()
}

func (c *Controller) summaryReady(s *sessionState, summary domain.Summary, err error) {
	defer close(s.summaryDone)

	if err != nil {
		s.summaryErr = err
		s.logger.Error().Err(err).Msg("Session summary failed")
		s.stats.RecordError("summary", "analysis")
		c.sink.SessionError(domain.ErrorCodeSummary, err.Error())
		return
	}
	s.summary = &summary
	c.sink.SummaryReady(summary)
}
