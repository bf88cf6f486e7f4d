package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_coordinator_active_sessions",
		Help: "Number of sessions currently recording or paused",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_coordinator_sessions_total",
		Help: "Total number of sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_coordinator_session_duration_seconds",
		Help:    "Recorded duration of sessions in seconds, excluding paused time",
		Buckets: []float64{60, 300, 600, 1200, 1800, 3000, 3600, 5400},
	})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_coordinator_session_state",
		Help: "1 for the current lifecycle state of the session, 0 otherwise",
	}, []string{"state"})

	// Transcription metrics
	transcriptSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_transcript_segments_total",
		Help: "Transcript segments received from the transcription backend",
	}, []string{"kind"}) // kind: "interim" or "final"

	transportConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_transport_connects_total",
		Help: "Transcription connection attempts",
	}, []string{"status"})

	// Analysis metrics
	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_dispatches_total",
		Help: "Analysis job dispatches by trigger",
	}, []string{"trigger"}) // trigger: "threshold" or "manual"

	analysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_analysis_requests_total",
		Help: "Total number of analysis requests",
	}, []string{"kind", "status"})

	analysisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_coordinator_analysis_latency_seconds",
		Help:    "Analysis request latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
	}, []string{"kind"})

	analysisResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_analysis_results_total",
		Help: "Analysis results by kind and outcome",
	}, []string{"kind", "outcome"}) // outcome: "accepted", "discarded", "parked"

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_alerts_total",
		Help: "Candidate alerts by category and outcome",
	}, []string{"category", "outcome"}) // outcome: "shown" or "suppressed"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_coordinator_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_coordinator_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "captured" or "sent"

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_coordinator_frames_dropped_total",
		Help: "Audio frames dropped because the transport was not ready",
	})
)

var sessionStates = []string{"idle", "recording", "paused", "stopped"}

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID string
	startTime time.Time
	recorded  time.Duration
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session. Only the first call counts.
func (m *Metrics) RecordSessionEnd(recorded time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	m.recorded = recorded
	activeSessions.Dec()
	sessionDuration.Observe(recorded.Seconds())
}

// RecordState marks state as the current lifecycle state
func (m *Metrics) RecordState(state string) {
	for _, s := range sessionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		sessionState.WithLabelValues(s).Set(value)
	}
}

// RecordDispatch records an analysis job dispatch
func (m *Metrics) RecordDispatch(manual bool) {
	trigger := "threshold"
	if manual {
		trigger = "manual"
	}
	dispatchesTotal.WithLabelValues(trigger).Inc()
}

// RecordFrameDropped records a frame that could not be sent
func (m *Metrics) RecordFrameDropped() {
	framesDropped.Inc()
}

// RecordTranscript records a received transcript segment
func (m *Metrics) RecordTranscript(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	transcriptSegments.WithLabelValues(kind).Inc()
}

// RecordConnect records a transcription connection attempt
func (m *Metrics) RecordConnect(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	transportConnects.WithLabelValues(status).Inc()
}

// RecordAnalysis records a completed analysis request
func (m *Metrics) RecordAnalysis(kind string, started time.Time, success bool) {
	analysisLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	analysisRequests.WithLabelValues(kind, status).Inc()
}

// RecordResult records what happened to a decoded analysis result
func (m *Metrics) RecordResult(kind, outcome string) {
	analysisResults.WithLabelValues(kind, outcome).Inc()
}

// RecordAlert records whether a candidate alert was shown or suppressed
func (m *Metrics) RecordAlert(category string, shown bool) {
	outcome := "shown"
	if !shown {
		outcome = "suppressed"
	}
	alertsTotal.WithLabelValues(category, outcome).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
