package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/ports"
)

// CaptureConfig holds the settings shared by process-backed sources
type CaptureConfig struct {
	SampleRate  int
	FrameMs     int
	BufferSize  int
	VAD         *VADConfig
	InputFormat string // microphone only, e.g. pulse, alsa, avfoundation
	InputDevice string // microphone only
}

// frameOutput is the channel handed out by Start. It survives a seek, which
// swaps the process feeding it, and is closed exactly once.
type frameOutput struct {
	ch     chan ports.Frame
	once   sync.Once
	closed atomic.Bool
}

func (o *frameOutput) close() {
	o.once.Do(func() {
		o.closed.Store(true)
		close(o.ch)
	})
}

// generation is one decoder process and the goroutine pumping it
type generation struct {
	proc Process
	out  *frameOutput
	stop chan struct{}
	done chan struct{}
}

// streamSource runs one decoder process at a time and frames its output.
// The argument builder receives the media offset to start from.
type streamSource struct {
	name   string
	runner Runner
	framer *Framer
	args   func(offset time.Duration) []string

	mu       sync.Mutex
	ctx      context.Context
	gen      *generation
	out      *frameOutput
	position time.Duration
	stopped  bool
}

func newStreamSource(name string, runner Runner, cfg CaptureConfig, args func(time.Duration) []string) *streamSource {
	return &streamSource{
		name:   name,
		runner: runner,
		framer: NewFramer(FramerConfig{
			SampleRate: cfg.SampleRate,
			FrameMs:    cfg.FrameMs,
			BufferSize: cfg.BufferSize,
			VAD:        cfg.VAD,
		}),
		args: args,
	}
}

func (s *streamSource) start(ctx context.Context) (<-chan ports.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("%w: %s source was stopped", domain.ErrCaptureUnavailable, s.name)
	}
	if s.gen != nil {
		return nil, fmt.Errorf("%s capture already running", s.name)
	}

	out := &frameOutput{ch: make(chan ports.Frame, 16)}
	s.ctx = ctx
	if err := s.spawn(out); err != nil {
		return nil, err
	}
	s.out = out
	return out.ch, nil
}

// spawn must be called with mu held
func (s *streamSource) spawn(out *frameOutput) error {
	proc, err := s.runner.Run(s.ctx, s.args(s.position))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}

	s.framer.Reset(s.position)
	g := &generation{
		proc: proc,
		out:  out,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.gen = g
	go s.pump(g)
	return nil
}

// halt tears the current generation down and records where it stopped.
// It must be called with mu held.
func (s *streamSource) halt() error {
	g := s.gen
	if g == nil {
		return nil
	}
	s.gen = nil

	close(g.stop)
	err := g.proc.Stop()
	<-g.done
	s.position = s.framer.Position()
	return err
}

func (s *streamSource) pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.halt()
	if s.out != nil {
		s.out.close()
		s.out = nil
	}
	return err
}

func (s *streamSource) stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return s.pause()
}

func (s *streamSource) seek(offset time.Duration) error {
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen == nil {
		s.position = offset
		return nil
	}

	out := s.gen.out
	if err := s.halt(); err != nil {
		logger := observability.GetLogger()
		logger.Warn().Err(err).Str("source", s.name).Msg("Decoder stop failed during seek")
	}
	s.position = offset

	// The file may have ended while we were stopping it
	if out.closed.Load() {
		return nil
	}
	return s.spawn(out)
}

func (s *streamSource) currentPosition() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != nil {
		return s.framer.Position()
	}
	return s.position
}

func (s *streamSource) pump(g *generation) {
	defer close(g.done)

	logger := observability.GetLogger()
	send := func(frame ports.Frame) bool {
		select {
		case g.out.ch <- frame:
			return true
		case <-g.stop:
			return false
		}
	}

	buf := make([]byte, 4096)
	for {
		n, err := g.proc.Read(buf)
		if n > 0 {
			for _, frame := range s.framer.Push(buf[:n]) {
				if !send(frame) {
					return
				}
			}
		}
		if err == nil {
			continue
		}

		select {
		case <-g.stop:
			return
		default:
		}

		if frame, ok := s.framer.Flush(); ok && !send(frame) {
			return
		}
		if errors.Is(err, io.EOF) {
			logger.Info().Str("source", s.name).Dur("position", s.framer.Position()).Msg("Capture source ended")
		} else {
			logger.Warn().Err(err).Str("source", s.name).Msg("Capture read failed")
		}
		g.out.close()
		return
	}
}
