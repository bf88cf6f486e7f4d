package domain

import "time"

// TransportEvent is a decoded message from the transcription backend.
// The concrete type is one of ReadyEvent, TranscriptEvent, SpeechEvent or
// TransportErrorEvent.
type TransportEvent interface {
	transportEvent()
}

// ReadyEvent acknowledges the session-init handshake.
type ReadyEvent struct {
	SessionID string
	At        time.Time
}

// Word is a word-level timing from a final transcript.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

// TranscriptEvent is an interim or final recognition result.
type TranscriptEvent struct {
	Text       string
	Confidence float64
	IsFinal    bool
	Speaker    string
	Timestamp  time.Time
	Words      []Word
}

// SpeechKind distinguishes speech activity boundaries.
type SpeechKind string

const (
	SpeechStart SpeechKind = "speech_start"
	SpeechEnd   SpeechKind = "speech_end"
)

// SpeechEvent reports voice activity from the backend or the local detector.
type SpeechEvent struct {
	Kind  SpeechKind
	Local bool
	At    time.Time
}

// TransportErrorEvent is a backend-reported or connection-level failure.
type TransportErrorEvent struct {
	Message string
	At      time.Time
}

func (ReadyEvent) transportEvent()          {}
func (TranscriptEvent) transportEvent()     {}
func (SpeechEvent) transportEvent()         {}
func (TransportErrorEvent) transportEvent() {}
