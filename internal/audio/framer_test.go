package audio

import (
	"testing"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
)

func TestFramer_CutsFixedFrames(t *testing.T) {
	// 10ms frames at 8kHz are 160 bytes
	f := NewFramer(FramerConfig{SampleRate: 8000, FrameMs: 10})
	if f.FrameBytes() != 160 {
		t.Fatalf("Expected 160-byte frames, got %d", f.FrameBytes())
	}

	frames := f.Push(make([]byte, 100))
	if len(frames) != 0 {
		t.Errorf("Expected no frame from a partial push, got %d", len(frames))
	}

	frames = f.Push(make([]byte, 400))
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames from 500 bytes, got %d", len(frames))
	}
	for i, frame := range frames {
		if len(frame.Data) != 160 {
			t.Errorf("Frame %d: expected 160 bytes, got %d", i, len(frame.Data))
		}
		want := time.Duration(i) * 10 * time.Millisecond
		if frame.Offset != want {
			t.Errorf("Frame %d: expected offset %v, got %v", i, want, frame.Offset)
		}
	}
	if f.Position() != 30*time.Millisecond {
		t.Errorf("Expected position 30ms, got %v", f.Position())
	}

	last, ok := f.Flush()
	if !ok {
		t.Fatal("Expected a trailing partial frame")
	}
	if len(last.Data) != 20 {
		t.Errorf("Expected 20 trailing bytes, got %d", len(last.Data))
	}
	if _, ok := f.Flush(); ok {
		t.Error("Expected nothing left after flush")
	}
}

func TestFramer_LargePushLargerThanBuffer(t *testing.T) {
	f := NewFramer(FramerConfig{SampleRate: 8000, FrameMs: 10, BufferSize: 16})

	frames := f.Push(make([]byte, 1600))
	if len(frames) != 10 {
		t.Errorf("Expected 10 frames, got %d", len(frames))
	}
}

func TestFramer_ResetStartsAtBase(t *testing.T) {
	f := NewFramer(FramerConfig{SampleRate: 8000, FrameMs: 10})
	f.Push(make([]byte, 170))

	f.Reset(2 * time.Second)
	frames := f.Push(make([]byte, 160))
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if frames[0].Offset != 2*time.Second {
		t.Errorf("Expected offset 2s, got %v", frames[0].Offset)
	}
}

func TestFramer_MarksSpeechBoundaries(t *testing.T) {
	f := NewFramer(FramerConfig{
		SampleRate: 8000,
		FrameMs:    10,
		VAD:        &VADConfig{EnergyThreshold: 500, SilenceFrames: 2},
	})

	loud := SamplesToBytes(constantFrame(5000, 80))
	quiet := SamplesToBytes(constantFrame(0, 80))

	var pcm []byte
	pcm = append(pcm, loud...)
	pcm = append(pcm, quiet...)
	pcm = append(pcm, quiet...)

	frames := f.Push(pcm)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	if frames[0].Speech != domain.SpeechStart {
		t.Errorf("Expected speech_start on frame 0, got %q", frames[0].Speech)
	}
	if frames[1].Speech != "" {
		t.Errorf("Expected no boundary on frame 1, got %q", frames[1].Speech)
	}
	if frames[2].Speech != domain.SpeechEnd {
		t.Errorf("Expected speech_end on frame 2, got %q", frames[2].Speech)
	}
}
