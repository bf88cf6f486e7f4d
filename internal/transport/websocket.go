package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/ports"
	"github.com/therassist/session-coordinator/internal/resilience"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultCloseGrace       = time.Second
	eventBufferSize         = 64
)

// WebSocketConfig controls the duplex transcription connection
type WebSocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration // dial plus wait for ready
	WriteTimeout     time.Duration
	CloseGrace       time.Duration // wait for trailing finals on close
	Reconnect        *resilience.ReconnectConfig
}

// WebSocketBackend implements ports.Transport over the streaming
// transcription service protocol.
type WebSocketBackend struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketBackend creates a websocket transport
func NewWebSocketBackend(cfg WebSocketConfig) *WebSocketBackend {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.CloseGrace < 0 {
		cfg.CloseGrace = defaultCloseGrace
	}
	return &WebSocketBackend{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Open dials the backend and completes the session-init handshake. Failed
// attempts are retried with backoff.
func (b *WebSocketBackend) Open(ctx context.Context, params ports.SessionParams) (ports.Connection, error) {
	var conn *wsConnection
	err := resilience.Reconnect(ctx, func() error {
		c, err := b.dial(ctx, params)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, b.cfg.Reconnect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return conn, nil
}

// Check reports whether the backend accepts websocket connections
func (b *WebSocketBackend) Check(ctx context.Context) (bool, error) {
	conn, _, err := b.dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
	return true, nil
}

func (b *WebSocketBackend) dial(ctx context.Context, params ports.SessionParams) (*wsConnection, error) {
	logger := observability.WithSession(params.SessionID).With().Str("component", "transport").Logger()

	ws, _, err := b.dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to transcription service: %w", err)
	}

	c := &wsConnection{
		conn:   ws,
		cfg:    b.cfg,
		logger: logger,
		events: make(chan domain.TransportEvent, eventBufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	ready, err := c.handshake(ctx, params)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	c.ready.Store(true)
	c.events <- ready
	go c.readLoop()

	logger.Info().
		Str("url", b.cfg.URL).
		Int("sample_rate", params.SampleRate).
		Str("encoding", params.Encoding).
		Msg("Transcription stream ready")
	return c, nil
}

// wsConnection is one generation of the transcription stream
type wsConnection struct {
	conn   *websocket.Conn
	cfg    WebSocketConfig
	logger zerolog.Logger

	events chan domain.TransportEvent
	quit   chan struct{} // closed on final teardown, unblocks emit
	done   chan struct{} // closed when readLoop exits

	writeMu   sync.Mutex
	ready     atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
}

// handshake sends the init message and waits for ready
func (c *wsConnection) handshake(ctx context.Context, params ports.SessionParams) (domain.ReadyEvent, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	if err := c.conn.WriteJSON(newInitMessage(params)); err != nil {
		return domain.ReadyEvent{}, fmt.Errorf("failed to send session init: %w", err)
	}

	for {
		mt, payload, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return domain.ReadyEvent{}, ctx.Err()
			}
			return domain.ReadyEvent{}, fmt.Errorf("handshake failed: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}

		event, err := decodeMessage(payload, time.Now())
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping message during handshake")
			continue
		}

		switch ev := event.(type) {
		case domain.ReadyEvent:
			_ = c.conn.SetReadDeadline(time.Time{})
			_ = c.conn.SetWriteDeadline(time.Time{})
			return ev, nil
		case domain.TransportErrorEvent:
			return domain.ReadyEvent{}, fmt.Errorf("transcription service rejected session: %s", ev.Message)
		default:
			c.logger.Debug().Msgf("Ignoring %T before ready", ev)
		}
	}
}

// Send streams one encoded audio frame
func (c *wsConnection) Send(frame []byte) error {
	if !c.ready.Load() {
		return domain.ErrNotReady
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.ready.Store(false)
		return fmt.Errorf("%w: failed to send audio: %v", domain.ErrTransport, err)
	}
	return nil
}

// Events returns decoded server messages
func (c *wsConnection) Events() <-chan domain.TransportEvent {
	return c.events
}

// Close sends stop, waits the grace delay for trailing finals and tears the
// socket down. It is safe to call more than once.
func (c *wsConnection) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		if c.ready.Swap(false) {
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.conn.WriteJSON(stopMessage{Type: "stop"})
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("Failed to send stop")
			}

			grace := time.NewTimer(c.cfg.CloseGrace)
			select {
			case <-grace.C:
			case <-c.done:
			case <-ctx.Done():
			}
			grace.Stop()
		}

		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		close(c.quit)
		_ = c.conn.Close()
		<-c.done

		c.logger.Info().Msg("Transcription stream closed")
	})
	return nil
}

func (c *wsConnection) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		mt, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.ready.Store(false)
			if c.closing.Load() {
				return
			}
			message := err.Error()
			if isNormalClose(err) {
				message = "transcription stream closed by server"
				c.logger.Warn().Msg("Transcription stream closed by server")
			} else {
				c.logger.Error().Err(err).Msg("Transcription stream failed")
			}
			c.emit(domain.TransportErrorEvent{Message: message, At: time.Now()})
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		event, err := decodeMessage(payload, time.Now())
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping transcription message")
			continue
		}
		c.emit(event)
	}
}

func (c *wsConnection) emit(event domain.TransportEvent) {
	select {
	case c.events <- event:
	case <-c.quit:
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
