package control

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientQueueLen = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The feed is served to a local UI; no origin policy yet
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Envelope is one message on the UI feed
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Feed message types
const (
	TypeStatus     = "session_state"
	TypeTranscript = "transcript"
	TypeSpeech     = "speech"
	TypeAlerts     = "alerts"
	TypeGuidance   = "guidance"
	TypeMetrics    = "metrics"
	TypeError      = "error"
	TypeSummary    = "summary"
)

type errorPayload struct {
	Code   domain.ErrorCode `json:"code"`
	Detail string           `json:"detail"`
}

type speechPayload struct {
	Kind  domain.SpeechKind `json:"kind"`
	Local bool              `json:"local"`
	At    time.Time         `json:"at"`
}

// Hub broadcasts coordinator updates to every connected UI client. It
// implements ports.EventSink and never blocks the caller: a client that
// falls behind loses messages rather than stalling the session.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	logger  zerolog.Logger
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  observability.GetLogger().With().Str("component", "hub").Logger(),
	}
}

// HandleWS upgrades a UI connection and registers it with the hub
func (h *Hub) HandleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to upgrade UI connection")
			return
		}

		c := &client{
			id:   uuid.New().String(),
			conn: conn,
			send: make(chan []byte, clientQueueLen),
		}
		if !h.register(c) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}
		h.logger.Info().Str("client_id", c.id).Str("remote", r.RemoteAddr).Msg("UI client connected")

		go h.writePump(c)
		h.readPump(c)
	}
}

// Clients returns the number of connected UI clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info().Str("client_id", c.id).Msg("UI client disconnected")
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// readPump discards client input and detects disconnects
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", c.id).Msg("UI client read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug().Err(err).Str("client_id", c.id).Msg("UI client write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) broadcast(kind string, data interface{}) {
	msg, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("type", kind).Msg("Failed to encode feed message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().Str("client_id", c.id).Str("type", kind).Msg("UI client queue full, dropping message")
		}
	}
}

func (h *Hub) SessionStateChanged(status domain.Status) {
	h.broadcast(TypeStatus, status)
}

func (h *Hub) TranscriptChanged(entry domain.TranscriptEntry) {
	h.broadcast(TypeTranscript, entry)
}

func (h *Hub) SpeechActivity(event domain.SpeechEvent) {
	h.broadcast(TypeSpeech, speechPayload{Kind: event.Kind, Local: event.Local, At: event.At})
}

func (h *Hub) AlertsChanged(alerts []domain.Alert) {
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	h.broadcast(TypeAlerts, alerts)
}

func (h *Hub) GuidanceChanged(view domain.GuidanceView) {
	h.broadcast(TypeGuidance, view)
}

func (h *Hub) MetricsChanged(metrics domain.SessionMetrics) {
	h.broadcast(TypeMetrics, metrics)
}

func (h *Hub) SessionError(code domain.ErrorCode, detail string) {
	h.broadcast(TypeError, errorPayload{Code: code, Detail: detail})
}

func (h *Hub) SummaryReady(summary domain.Summary) {
	h.broadcast(TypeSummary, summary)
}
