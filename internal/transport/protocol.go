package transport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
)

// Server message types
const (
	msgReady       = "ready"
	msgTranscript  = "transcript"
	msgSpeechEvent = "speech_event"
	msgError       = "error"
)

// initMessage is the first client message of every connection.
type initMessage struct {
	SessionID string     `json:"session_id"`
	AuthToken string     `json:"auth_token"`
	Config    initConfig `json:"config"`
}

type initConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
}

// stopMessage ends the audio stream while leaving the socket open for
// trailing results.
type stopMessage struct {
	Type string `json:"type"`
}

func newInitMessage(params ports.SessionParams) initMessage {
	return initMessage{
		SessionID: params.SessionID,
		AuthToken: params.AuthToken,
		Config: initConfig{
			SampleRate: params.SampleRate,
			Encoding:   params.Encoding,
		},
	}
}

// serverMessage is the union of every server message shape.
type serverMessage struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	Timestamp  string          `json:"timestamp"`
	Transcript string          `json:"transcript"`
	Confidence float64         `json:"confidence"`
	IsFinal    bool            `json:"is_final"`
	Speaker    json.RawMessage `json:"speaker"`
	Words      []wireWord      `json:"words"`
	Event      string          `json:"event"`
	Error      string          `json:"error"`
}

type wireWord struct {
	Word       string          `json:"word"`
	StartTime  float64         `json:"start_time"`
	EndTime    float64         `json:"end_time"`
	Confidence float64         `json:"confidence"`
	Speaker    json.RawMessage `json:"speaker"`
}

// timestampLayouts covers RFC3339 and the zone-less ISO form the
// transcription service emits.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// decodeMessage turns one server text frame into a typed event.
func decodeMessage(data []byte, now time.Time) (domain.TransportEvent, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	at := parseTimestamp(msg.Timestamp, now)

	switch msg.Type {
	case msgReady:
		return domain.ReadyEvent{SessionID: msg.SessionID, At: at}, nil

	case msgTranscript:
		event := domain.TranscriptEvent{
			Text:       msg.Transcript,
			Confidence: msg.Confidence,
			IsFinal:    msg.IsFinal,
			Speaker:    parseSpeaker(msg.Speaker),
			Timestamp:  at,
		}
		for _, w := range msg.Words {
			event.Words = append(event.Words, domain.Word{
				Word:       w.Word,
				Start:      w.StartTime,
				End:        w.EndTime,
				Confidence: w.Confidence,
			})
			if event.Speaker == "" {
				event.Speaker = parseSpeaker(w.Speaker)
			}
		}
		return event, nil

	case msgSpeechEvent:
		switch kind := domain.SpeechKind(msg.Event); kind {
		case domain.SpeechStart, domain.SpeechEnd:
			return domain.SpeechEvent{Kind: kind, At: at}, nil
		default:
			return nil, fmt.Errorf("unknown speech event %q", msg.Event)
		}

	case msgError:
		return domain.TransportErrorEvent{Message: msg.Error, At: at}, nil

	case "":
		return nil, fmt.Errorf("message without type")

	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return fallback
}

// parseSpeaker accepts either a label or a numeric diarization index.
func parseSpeaker(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var label string
	if err := json.Unmarshal(raw, &label); err == nil {
		return strings.TrimSpace(label)
	}
	var index int
	if err := json.Unmarshal(raw, &index); err == nil {
		return "speaker_" + strconv.Itoa(index)
	}
	return ""
}
