package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
	"github.com/therassist/session-coordinator/internal/resilience"
)

var testParams = ports.SessionParams{
	SessionID:  "session-1",
	AuthToken:  "token",
	SampleRate: 16000,
	Encoding:   "linear16",
}

// newTestServer runs handler for every upgraded connection after reading
// the init message.
func newTestServer(t *testing.T, handler func(conn *websocket.Conn, init initMessage)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init initMessage
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		handler(conn, init)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestBackend(url string) *WebSocketBackend {
	return NewWebSocketBackend(WebSocketConfig{
		URL:              url,
		HandshakeTimeout: 2 * time.Second,
		CloseGrace:       500 * time.Millisecond,
		Reconnect:        &resilience.ReconnectConfig{MaxAttempts: 1},
	})
}

func sendReady(conn *websocket.Conn, init initMessage) {
	_ = conn.WriteJSON(map[string]interface{}{
		"type":       "ready",
		"session_id": init.SessionID,
		"timestamp":  time.Now().Format("2006-01-02T15:04:05.000000"),
		"config":     init.Config,
	})
}

func nextEvent(t *testing.T, events <-chan domain.TransportEvent) domain.TransportEvent {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatal("Expected event, channel closed")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return nil
}

func TestWebSocketBackend_Session(t *testing.T) {
	audio := make(chan []byte, 1)
	gotInit := make(chan initMessage, 1)

	url := newTestServer(t, func(conn *websocket.Conn, init initMessage) {
		gotInit <- init
		sendReady(conn, init)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","transcript":"hello","is_final":false}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","transcript":"hello world","is_final":true}`))

		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				audio <- payload
				continue
			}
			if strings.Contains(string(payload), `"stop"`) {
				// Trailing final after stop, then a clean close
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","transcript":"goodbye","is_final":true}`))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	})

	conn, err := newTestBackend(url).Open(context.Background(), testParams)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	init := <-gotInit
	if init.SessionID != "session-1" || init.AuthToken != "token" {
		t.Errorf("Expected init with session and token, got %+v", init)
	}
	if init.Config.SampleRate != 16000 || init.Config.Encoding != "linear16" {
		t.Errorf("Expected declared audio config, got %+v", init.Config)
	}

	events := conn.Events()
	if _, ok := nextEvent(t, events).(domain.ReadyEvent); !ok {
		t.Error("Expected ReadyEvent first")
	}
	if tr := nextEvent(t, events).(domain.TranscriptEvent); tr.IsFinal || tr.Text != "hello" {
		t.Errorf("Expected interim 'hello', got %+v", tr)
	}
	// The malformed frame is dropped
	if tr := nextEvent(t, events).(domain.TranscriptEvent); !tr.IsFinal || tr.Text != "hello world" {
		t.Errorf("Expected final 'hello world', got %+v", tr)
	}

	if err := conn.Send([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case payload := <-audio:
		if len(payload) != 4 {
			t.Errorf("Expected 4 audio bytes, got %d", len(payload))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for audio frame")
	}

	closed := make(chan struct{})
	go func() {
		_ = conn.Close(context.Background())
		close(closed)
	}()

	var trailing []string
	for event := range events {
		switch ev := event.(type) {
		case domain.TranscriptEvent:
			trailing = append(trailing, ev.Text)
		case domain.TransportErrorEvent:
			t.Errorf("Expected no error on clean close, got %s", ev.Message)
		}
	}
	<-closed

	if len(trailing) != 1 || trailing[0] != "goodbye" {
		t.Errorf("Expected trailing final 'goodbye', got %v", trailing)
	}
	if err := conn.Send([]byte{1}); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Expected ErrNotReady after close, got %v", err)
	}
}

func TestWebSocketBackend_Rejected(t *testing.T) {
	url := newTestServer(t, func(conn *websocket.Conn, init initMessage) {
		_ = conn.WriteJSON(map[string]string{"type": "error", "error": "invalid auth token"})
	})

	_, err := newTestBackend(url).Open(context.Background(), testParams)
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("Expected ErrTransport, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid auth token") {
		t.Errorf("Expected backend message in error, got %v", err)
	}
}

func TestWebSocketBackend_Unreachable(t *testing.T) {
	backend := newTestBackend("ws://127.0.0.1:1/ws")
	if _, err := backend.Open(context.Background(), testParams); !errors.Is(err, domain.ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", err)
	}
	if ok, err := backend.Check(context.Background()); ok || err == nil {
		t.Error("Expected Check to fail for unreachable backend")
	}
}

func TestWebSocketBackend_ServerDrop(t *testing.T) {
	url := newTestServer(t, func(conn *websocket.Conn, init initMessage) {
		sendReady(conn, init)
		// Return without a close frame
	})

	conn, err := newTestBackend(url).Open(context.Background(), testParams)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close(context.Background())

	events := conn.Events()
	nextEvent(t, events) // ready

	if _, ok := nextEvent(t, events).(domain.TransportErrorEvent); !ok {
		t.Error("Expected TransportErrorEvent after server drop")
	}
	if err := conn.Send([]byte{1}); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Expected ErrNotReady after drop, got %v", err)
	}
}
