package audio

import (
	"context"
	"sync"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
)

// SilentSource produces no audio. Scripted sessions use it because their
// transcript comes from the scripted transport rather than from frames.
type SilentSource struct {
	mu  sync.Mutex
	out chan ports.Frame
}

// NewSilentSource creates a silent source
func NewSilentSource() *SilentSource {
	return &SilentSource{}
}

func (s *SilentSource) Mode() domain.CaptureMode {
	return domain.CaptureModeScripted
}

func (s *SilentSource) Start(ctx context.Context) (<-chan ports.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		s.out = make(chan ports.Frame)
	}
	return s.out, nil
}

func (s *SilentSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	return nil
}

func (s *SilentSource) Stop() error {
	return s.Pause()
}
