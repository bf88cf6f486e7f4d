package ports

import (
	"context"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
)

// Frame is a chunk of linear16 mono audio at the capture sample rate.
type Frame struct {
	Data   []byte
	Offset time.Duration // media position of the first sample
	// Speech is set on the frame where local voice activity started or ended.
	Speech domain.SpeechKind
}

// CaptureSource produces audio frames for one session. Start may be called
// again after Pause; the returned channel is closed when production stops.
type CaptureSource interface {
	Mode() domain.CaptureMode
	Start(ctx context.Context) (<-chan Frame, error)
	Pause() error
	Stop() error
}

// Seeker is implemented by position-tracking sources.
type Seeker interface {
	Position() time.Duration
	Seek(offset time.Duration) error
}

// PlaybackMonitor plays a file source for the listener, kept in step with
// capture.
type PlaybackMonitor interface {
	Play(ctx context.Context, path string, offset time.Duration) error
	Pause() error
	Close() error
}

// SessionParams is declared to the transcription backend on open.
type SessionParams struct {
	SessionID  string
	AuthToken  string
	SampleRate int
	Encoding   string
}

// Connection is one generation of the duplex transcription stream.
type Connection interface {
	// Send streams an encoded audio frame.
	Send(frame []byte) error
	// Events is closed once the connection is torn down.
	Events() <-chan domain.TransportEvent
	// Close ends the stream, waits the grace delay for trailing finals and
	// tears the connection down.
	Close(ctx context.Context) error
}

// Transport opens transcription connections. Open returns once the backend
// has acknowledged the handshake.
type Transport interface {
	Open(ctx context.Context, params SessionParams) (Connection, error)
}

// AnalysisClient talks to the analysis backend.
type AnalysisClient interface {
	// Analyze sends one side of a job and calls deliver for every decoded
	// result line.
	Analyze(ctx context.Context, req domain.AnalysisRequest, deliver func(domain.AnalysisResult)) error
	Summarize(ctx context.Context, req domain.SummaryRequest) (domain.Summary, error)
}

// EventSink receives one-way coordinator updates. Implementations must not
// block.
type EventSink interface {
	SessionStateChanged(status domain.Status)
	TranscriptChanged(entry domain.TranscriptEntry)
	SpeechActivity(event domain.SpeechEvent)
	AlertsChanged(alerts []domain.Alert)
	GuidanceChanged(view domain.GuidanceView)
	MetricsChanged(metrics domain.SessionMetrics)
	SessionError(code domain.ErrorCode, detail string)
	SummaryReady(summary domain.Summary)
}
