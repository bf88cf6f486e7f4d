package audio

import (
	"context"
	"strconv"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
)

// MicrophoneSource captures a live input device through ffmpeg. Pause
// releases the device; Start after Pause re-acquires it.
type MicrophoneSource struct {
	src *streamSource
}

// NewMicrophoneSource creates a microphone source
func NewMicrophoneSource(runner Runner, cfg CaptureConfig) *MicrophoneSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := func(time.Duration) []string {
		return []string{
			"-nostdin",
			"-hide_banner",
			"-loglevel", "warning",
			"-f", cfg.InputFormat,
			"-i", cfg.InputDevice,
			"-ac", "1",
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-f", "s16le",
			"-",
		}
	}

	return &MicrophoneSource{src: newStreamSource("microphone", runner, cfg, args)}
}

func (m *MicrophoneSource) Mode() domain.CaptureMode {
	return domain.CaptureModeMicrophone
}

func (m *MicrophoneSource) Start(ctx context.Context) (<-chan ports.Frame, error) {
	return m.src.start(ctx)
}

func (m *MicrophoneSource) Pause() error {
	return m.src.pause()
}

func (m *MicrophoneSource) Stop() error {
	return m.src.stop()
}
