package audio

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/ports"
)

// FileSource decodes a media file at real-time pace. It remembers the
// offset it reached, so Start after Pause continues from there. An optional
// PlaybackMonitor plays the same file for the listener and follows every
// start, pause and seek.
type FileSource struct {
	path    string
	src     *streamSource
	monitor ports.PlaybackMonitor
}

// NewFileSource creates a source for path. monitor may be nil.
func NewFileSource(path string, runner Runner, cfg CaptureConfig, monitor ports.PlaybackMonitor) *FileSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}

	args := func(offset time.Duration) []string {
		return []string{
			"-nostdin",
			"-hide_banner",
			"-loglevel", "warning",
			"-re",
			"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
			"-i", path,
			"-vn",
			"-ac", "1",
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-f", "s16le",
			"-",
		}
	}

	return &FileSource{
		path:    path,
		src:     newStreamSource("file", runner, cfg, args),
		monitor: monitor,
	}
}

func (f *FileSource) Mode() domain.CaptureMode {
	return domain.CaptureModeFile
}

// Path returns the file being captured
func (f *FileSource) Path() string {
	return f.path
}

func (f *FileSource) Start(ctx context.Context) (<-chan ports.Frame, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrCaptureUnavailable, f.path)
	}

	frames, err := f.src.start(ctx)
	if err != nil {
		return nil, err
	}
	f.play(ctx, f.src.currentPosition())
	return frames, nil
}

func (f *FileSource) Pause() error {
	err := f.src.pause()
	if f.monitor != nil {
		if merr := f.monitor.Pause(); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

func (f *FileSource) Stop() error {
	err := f.src.stop()
	if f.monitor != nil {
		if merr := f.monitor.Close(); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

// Position returns the media offset reached by capture
func (f *FileSource) Position() time.Duration {
	return f.src.currentPosition()
}

// Seek moves capture and playback to offset. While paused it only moves
// the resume point.
func (f *FileSource) Seek(offset time.Duration) error {
	if err := f.src.seek(offset); err != nil {
		return err
	}

	f.src.mu.Lock()
	running := f.src.gen != nil
	ctx := f.src.ctx
	f.src.mu.Unlock()

	if running {
		f.play(ctx, f.src.currentPosition())
	}
	return nil
}

func (f *FileSource) play(ctx context.Context, offset time.Duration) {
	if f.monitor == nil {
		return
	}
	if err := f.monitor.Play(ctx, f.path, offset); err != nil {
		logger := observability.GetLogger()
		logger.Warn().Err(err).Str("path", f.path).Msg("Playback monitor failed to start")
	}
}
