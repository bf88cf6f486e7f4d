package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/ports"
	"github.com/therassist/session-coordinator/internal/resilience"
)

// DeepgramConfig controls the hosted live transcription backend
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	CloseGrace time.Duration
	Reconnect  *resilience.ReconnectConfig
	Breaker    *resilience.CircuitBreaker
}

// DeepgramBackend implements ports.Transport with the Deepgram live API
type DeepgramBackend struct {
	cfg DeepgramConfig
}

// NewDeepgramBackend creates a Deepgram transport
func NewDeepgramBackend(cfg DeepgramConfig) *DeepgramBackend {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.CloseGrace < 0 {
		cfg.CloseGrace = defaultCloseGrace
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker("deepgram", 5, 30*time.Second)
	}
	return &DeepgramBackend{cfg: cfg}
}

// Check reports whether the backend is configured. The live API has no
// cheap probe.
func (b *DeepgramBackend) Check(ctx context.Context) (bool, error) {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return false, fmt.Errorf("DEEPGRAM_API_KEY is not configured")
	}
	if b.cfg.Breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

// Open starts a live transcription stream. It returns once the socket is
// connected, which is the Deepgram equivalent of ready.
func (b *DeepgramBackend) Open(ctx context.Context, params ports.SessionParams) (ports.Connection, error) {
	var conn *deepgramConnection
	err := resilience.Reconnect(ctx, func() error {
		return b.cfg.Breaker.Call(func() error {
			c, err := b.connect(ctx, params)
			if err != nil {
				return err
			}
			conn = c
			return nil
		})
	}, b.cfg.Reconnect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return conn, nil
}

func (b *DeepgramBackend) connect(ctx context.Context, params ports.SessionParams) (*deepgramConnection, error) {
	logger := observability.WithSession(params.SessionID).With().Str("component", "deepgram").Logger()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          b.cfg.Model,
		Language:       b.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       params.Encoding,
		Channels:       1,
		SampleRate:     params.SampleRate,
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	conn := &deepgramConnection{
		cfg:    b.cfg,
		logger: logger,
		cancel: cancel,
		events: make(chan domain.TransportEvent, eventBufferSize),
		quit:   make(chan struct{}),
	}

	callback := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		conn:                   conn,
	}

	client, err := listenClient.NewWSUsingCallback(streamCtx, b.cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		cancel()
		return nil, fmt.Errorf("failed to connect to Deepgram")
	}
	if err := ctx.Err(); err != nil {
		client.Stop()
		cancel()
		return nil, err
	}

	conn.client = client
	conn.ready.Store(true)
	conn.emit(domain.ReadyEvent{SessionID: params.SessionID, At: time.Now()})

	logger.Info().
		Str("model", b.cfg.Model).
		Str("language", b.cfg.Language).
		Int("sample_rate", params.SampleRate).
		Str("encoding", params.Encoding).
		Msg("Deepgram stream ready")
	return conn, nil
}

// callbackHandler embeds the default handler and overrides the callbacks
// that map onto transport events
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	conn *deepgramConnection
}

// Message maps transcription results
func (h *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return nil
	}

	alt := msg.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	// Empty interims carry nothing; empty finals still retire the interim
	if text == "" && !msg.IsFinal {
		return nil
	}

	event := domain.TranscriptEvent{
		Text:       text,
		Confidence: alt.Confidence,
		IsFinal:    msg.IsFinal,
		Timestamp:  time.Now(),
	}
	for _, w := range alt.Words {
		event.Words = append(event.Words, domain.Word{
			Word:       w.Word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}
	h.conn.emit(event)
	return nil
}

// SpeechStarted maps the VAD start event
func (h *callbackHandler) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	h.conn.emit(domain.SpeechEvent{Kind: domain.SpeechStart, At: time.Now()})
	return nil
}

// UtteranceEnd maps the end of an utterance to speech end
func (h *callbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	h.conn.emit(domain.SpeechEvent{Kind: domain.SpeechEnd, At: time.Now()})
	return nil
}

// Error reports a backend failure
func (h *callbackHandler) Error(resp *msginterfaces.ErrorResponse) error {
	message := "deepgram returned an unknown error"
	if resp != nil {
		if resp.ErrMsg != "" {
			message = resp.ErrMsg
		} else if resp.Description != "" {
			message = resp.Description
		}
	}
	h.conn.logger.Error().Str("error", message).Msg("Deepgram error")
	h.conn.fail(message)
	return nil
}

// Close is called when the socket goes away
func (h *callbackHandler) Close(*msginterfaces.CloseResponse) error {
	if !h.conn.closing.Load() {
		h.conn.logger.Warn().Msg("Deepgram stream closed unexpectedly")
		h.conn.fail("deepgram stream closed")
	}
	return nil
}

// liveStream is the part of the SDK client a connection drives
type liveStream interface {
	Write(p []byte) (int, error)
	Finalize() error
	Stop()
}

// deepgramConnection is one generation of the Deepgram stream
type deepgramConnection struct {
	cfg    DeepgramConfig
	logger zerolog.Logger
	client liveStream
	cancel context.CancelFunc

	events chan domain.TransportEvent
	quit   chan struct{}

	mu        sync.RWMutex // guards closed against emitters
	closed    bool
	ready     atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
}

// Send streams one encoded audio frame
func (c *deepgramConnection) Send(frame []byte) error {
	if !c.ready.Load() {
		return domain.ErrNotReady
	}
	if _, err := c.client.Write(frame); err != nil {
		c.ready.Store(false)
		c.cfg.Breaker.RecordResult(false)
		return fmt.Errorf("%w: failed to send audio to Deepgram: %v", domain.ErrTransport, err)
	}
	return nil
}

// Events returns mapped Deepgram callbacks
func (c *deepgramConnection) Events() <-chan domain.TransportEvent {
	return c.events
}

// Close asks Deepgram to flush pending audio, waits the grace delay for the
// trailing finals, then sends CloseStream
func (c *deepgramConnection) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		if c.ready.Swap(false) {
			if err := c.client.Finalize(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to request Deepgram finalize")
			}
			grace := time.NewTimer(c.cfg.CloseGrace)
			select {
			case <-grace.C:
			case <-ctx.Done():
			}
			grace.Stop()
		}

		c.client.Stop()
		c.cancel()

		close(c.quit)
		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()

		c.logger.Info().Msg("Deepgram stream closed")
	})
	return nil
}

func (c *deepgramConnection) fail(message string) {
	c.ready.Store(false)
	c.cfg.Breaker.RecordResult(false)
	c.emit(domain.TransportErrorEvent{Message: message, At: time.Now()})
}

func (c *deepgramConnection) emit(event domain.TransportEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	select {
	case c.events <- event:
	case <-c.quit:
	}
}
