package session

import (
	"fmt"
	"strings"

	"github.com/therassist/session-coordinator/internal/audio"
	"github.com/therassist/session-coordinator/internal/config"
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
	"github.com/therassist/session-coordinator/internal/transport"
)

// StartRequest selects the capture source and describes the session
type StartRequest struct {
	Mode    domain.CaptureMode    `json:"mode"`
	Source  string                `json:"source,omitempty"` // file path, or script path in scripted mode
	Context domain.SessionContext `json:"context"`
}

// Pipeline is the capture source and transport of one session. The source
// and transport outlive generations: pause and resume reuse them.
type Pipeline struct {
	Source    ports.CaptureSource
	Transport ports.Transport
	Encoder   *audio.Encoder // nil sends capture frames unchanged

	// Finished is closed when a source with a natural end has played out.
	// nil when the end shows up as the frame channel closing instead.
	Finished <-chan struct{}
}

func (p *Pipeline) encode(pcm []byte) ([]byte, error) {
	if p.Encoder == nil {
		return pcm, nil
	}
	return p.Encoder.Encode(pcm)
}

// PipelineFactory builds the pipeline for a start request
type PipelineFactory interface {
	Build(req StartRequest) (*Pipeline, error)
}

// ConfigFactory builds pipelines from process configuration. Live modes
// share one transcription backend; scripted mode gets a fresh replay per
// session.
type ConfigFactory struct {
	cfg    *config.Config
	live   ports.Transport
	runner audio.Runner
}

// NewConfigFactory creates a factory. live serves microphone and file
// sessions.
func NewConfigFactory(cfg *config.Config, live ports.Transport) *ConfigFactory {
	return &ConfigFactory{
		cfg:    cfg,
		live:   live,
		runner: audio.NewFFmpegRunner(cfg.FFmpegCommand),
	}
}

// Build implements PipelineFactory
func (f *ConfigFactory) Build(req StartRequest) (*Pipeline, error) {
	encoder, err := audio.NewEncoder(f.cfg.Encoding, f.cfg.SampleRate, f.cfg.TransportRate)
	if err != nil {
		return nil, err
	}

	capture := audio.CaptureConfig{
		SampleRate: f.cfg.SampleRate,
		FrameMs:    f.cfg.FrameMs,
		BufferSize: f.cfg.AudioBufferSize,
		VAD: &audio.VADConfig{
			EnergyThreshold: f.cfg.VADEnergyThreshold,
			SilenceFrames:   f.cfg.VADSilenceFrames,
			FrameSize:       f.cfg.SampleRate * f.cfg.FrameMs / 1000,
		},
		InputFormat: f.cfg.InputFormat,
		InputDevice: f.cfg.InputDevice,
	}

	switch req.Mode {
	case domain.CaptureModeMicrophone:
		return &Pipeline{
			Source:    audio.NewMicrophoneSource(f.runner, capture),
			Transport: f.live,
			Encoder:   encoder,
		}, nil

	case domain.CaptureModeFile:
		if strings.TrimSpace(req.Source) == "" {
			return nil, fmt.Errorf("%w: file mode needs a source path", domain.ErrCaptureUnavailable)
		}
		var monitor ports.PlaybackMonitor
		if f.cfg.MonitorEnabled {
			monitor = audio.NewFFplayMonitor(f.cfg.FFplayCommand)
		}
		return &Pipeline{
			Source:    audio.NewFileSource(req.Source, f.runner, capture, monitor),
			Transport: f.live,
			Encoder:   encoder,
		}, nil

	case domain.CaptureModeScripted:
		path := req.Source
		if path == "" {
			path = f.cfg.ScriptPath
		}
		script, err := transport.LoadScript(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
		}
		replay := transport.NewScriptedBackend(script, 0)
		return &Pipeline{
			Source:    audio.NewSilentSource(),
			Transport: replay,
			Finished:  replay.Finished(),
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown capture mode %q", domain.ErrCaptureUnavailable, req.Mode)
}
