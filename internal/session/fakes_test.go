package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSource hands out a fresh frame channel per Start
type fakeSource struct {
	mu       sync.Mutex
	startErr error
	frames   chan ports.Frame
	starts   int
	pauses   int
	stops    int
}

func (s *fakeSource) Mode() domain.CaptureMode {
	return domain.CaptureModeMicrophone
}

func (s *fakeSource) Start(ctx context.Context) (<-chan ports.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startErr != nil {
		return nil, s.startErr
	}
	s.starts++
	s.frames = make(chan ports.Frame, 16)
	return s.frames, nil
}

func (s *fakeSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pauses++
	s.closeFrames()
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stops++
	s.closeFrames()
	return nil
}

func (s *fakeSource) closeFrames() {
	if s.frames != nil {
		close(s.frames)
		s.frames = nil
	}
}

// emit delivers a frame as if captured
func (s *fakeSource) emit(frame ports.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames != nil {
		s.frames <- frame
	}
}

// end closes the frame channel as if the media ran out
func (s *fakeSource) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFrames()
}

func (s *fakeSource) counts() (starts, pauses, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.pauses, s.stops
}

// seekableSource is a fakeSource that tracks a media position
type seekableSource struct {
	*fakeSource
	posMu    sync.Mutex
	position time.Duration
}

func (s *seekableSource) Mode() domain.CaptureMode {
	return domain.CaptureModeFile
}

func (s *seekableSource) Position() time.Duration {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	return s.position
}

func (s *seekableSource) Seek(offset time.Duration) error {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.position = offset
	return nil
}

// fakeTransport records the order of opens and closes across generations
type fakeTransport struct {
	mu       sync.Mutex
	openErr  error
	trailing []domain.TranscriptEvent // emitted by every connection on close
	conns    []*fakeConn
	opens    int
	log      []string
	opened   chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeConn, 8)}
}

func (t *fakeTransport) Open(ctx context.Context, params ports.SessionParams) (ports.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.opens++
	n := t.opens
	t.log = append(t.log, fmt.Sprintf("open%d", n))
	if t.openErr != nil {
		return nil, t.openErr
	}

	conn := &fakeConn{
		name:      fmt.Sprintf("close%d", n),
		transport: t,
		params:    params,
		trailing:  t.trailing,
		events:    make(chan domain.TransportEvent, 64),
	}
	conn.events <- domain.ReadyEvent{SessionID: params.SessionID, At: time.Now()}
	t.conns = append(t.conns, conn)
	t.opened <- conn
	return conn, nil
}

func (t *fakeTransport) record(entry string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, entry)
}

func (t *fakeTransport) history() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.log))
	copy(out, t.log)
	return out
}

func (t *fakeTransport) setTrailing(events ...domain.TranscriptEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trailing = events
}

func (t *fakeTransport) next(tb testing.TB) *fakeConn {
	tb.Helper()
	select {
	case conn := <-t.opened:
		return conn
	case <-time.After(2 * time.Second):
		tb.Fatal("Timed out waiting for a transport connection")
		return nil
	}
}

type fakeConn struct {
	name      string
	transport *fakeTransport
	params    ports.SessionParams
	trailing  []domain.TranscriptEvent
	events    chan domain.TransportEvent

	mu     sync.Mutex
	sent   int
	closed bool
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrNotReady
	}
	c.sent++
	return nil
}

func (c *fakeConn) Events() <-chan domain.TransportEvent {
	return c.events
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, event := range c.trailing {
		c.events <- event
	}
	c.transport.record(c.name)
	close(c.events)
	return nil
}

func (c *fakeConn) push(event domain.TransportEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.events <- event
	}
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// fakeAnalysis parks every request until the test replies to it
type fakeAnalysis struct {
	requests chan *pendingRequest

	mu         sync.Mutex
	summaries  []domain.SummaryRequest
	summary    domain.Summary
	summaryErr error
}

type pendingRequest struct {
	req   domain.AnalysisRequest
	reply chan analysisReply
}

type analysisReply struct {
	results []domain.AnalysisResult
	err     error
}

func newFakeAnalysis() *fakeAnalysis {
	return &fakeAnalysis{requests: make(chan *pendingRequest, 16)}
}

func (f *fakeAnalysis) Analyze(ctx context.Context, req domain.AnalysisRequest, deliver func(domain.AnalysisResult)) error {
	p := &pendingRequest{req: req, reply: make(chan analysisReply, 1)}
	select {
	case f.requests <- p:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case r := <-p.reply:
		for _, result := range r.results {
			deliver(result)
		}
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAnalysis) Summarize(ctx context.Context, req domain.SummaryRequest) (domain.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, req)
	return f.summary, f.summaryErr
}

func (f *fakeAnalysis) summaryRequests() []domain.SummaryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SummaryRequest, len(f.summaries))
	copy(out, f.summaries)
	return out
}

func (p *pendingRequest) respond(results ...domain.AnalysisResult) {
	p.reply <- analysisReply{results: results}
}

func (p *pendingRequest) fail(err error) {
	p.reply <- analysisReply{err: err}
}

// takePair waits for both requests of one job and returns them realtime
// first
func (f *fakeAnalysis) takePair(tb testing.TB) (realtime, comprehensive *pendingRequest) {
	tb.Helper()
	var pair []*pendingRequest
	for len(pair) < 2 {
		select {
		case p := <-f.requests:
			pair = append(pair, p)
		case <-time.After(2 * time.Second):
			tb.Fatalf("Timed out waiting for analysis requests, got %d", len(pair))
		}
	}
	if pair[0].req.Kind == domain.AnalysisComprehensive {
		pair[0], pair[1] = pair[1], pair[0]
	}
	if pair[0].req.Kind != domain.AnalysisRealtime || pair[1].req.Kind != domain.AnalysisComprehensive {
		tb.Fatalf("Expected one request of each kind, got %s and %s", pair[0].req.Kind, pair[1].req.Kind)
	}
	return pair[0], pair[1]
}

func (f *fakeAnalysis) expectNone(tb testing.TB, wait time.Duration) {
	tb.Helper()
	select {
	case p := <-f.requests:
		tb.Errorf("Expected no analysis request, got %s for job %d", p.req.Kind, p.req.Job)
	case <-time.After(wait):
	}
}

type fakeFactory struct {
	pipeline *Pipeline
	err      error
}

func (f *fakeFactory) Build(req StartRequest) (*Pipeline, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pipeline, nil
}

// recordingSink keeps the latest value of every update
type recordingSink struct {
	mu         sync.Mutex
	statuses   []domain.Status
	transcript []domain.TranscriptEntry
	speech     []domain.SpeechEvent
	alerts     []domain.Alert
	guidance   domain.GuidanceView
	metrics    domain.SessionMetrics
	errors     []domain.ErrorCode
	summaries  []domain.Summary
}

func (s *recordingSink) SessionStateChanged(status domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *recordingSink) TranscriptChanged(entry domain.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, entry)
}

func (s *recordingSink) SpeechActivity(event domain.SpeechEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speech = append(s.speech, event)
}

func (s *recordingSink) AlertsChanged(alerts []domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = alerts
}

func (s *recordingSink) GuidanceChanged(view domain.GuidanceView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guidance = view
}

func (s *recordingSink) MetricsChanged(metrics domain.SessionMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = metrics
}

func (s *recordingSink) SessionError(code domain.ErrorCode, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, code)
}

func (s *recordingSink) SummaryReady(summary domain.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
}

func (s *recordingSink) lastStatus() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return domain.Status{}
	}
	return s.statuses[len(s.statuses)-1]
}

func (s *recordingSink) visibleAlerts() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts
}

func (s *recordingSink) guidanceView() domain.GuidanceView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guidance
}

func (s *recordingSink) hasError(code domain.ErrorCode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.errors {
		if c == code {
			return true
		}
	}
	return false
}

func (s *recordingSink) hasTranscript(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.transcript {
		if e.Text == text {
			return true
		}
	}
	return false
}

func (s *recordingSink) speechCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speech)
}

func waitFor(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("Timed out waiting for %s", what)
}
