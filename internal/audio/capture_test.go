package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
)

type fakeProcess struct {
	data    chan []byte
	stopped chan struct{}
	once    sync.Once
	pending []byte
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		data:    make(chan []byte, 8),
		stopped: make(chan struct{}),
	}
}

func (p *fakeProcess) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case d, ok := <-p.data:
			if !ok {
				return 0, io.EOF
			}
			p.pending = d
		case <-p.stopped:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakeProcess) Stop() error {
	p.once.Do(func() { close(p.stopped) })
	return nil
}

type fakeRunner struct {
	mu    sync.Mutex
	args  [][]string
	procs []*fakeProcess
	err   error
}

func (r *fakeRunner) Run(ctx context.Context, args []string) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.args = append(r.args, args)
	if r.err != nil {
		return nil, r.err
	}
	proc := newFakeProcess()
	r.procs = append(r.procs, proc)
	return proc, nil
}

func (r *fakeRunner) proc(i int) *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[i]
}

func (r *fakeRunner) argAfter(run int, flag string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	args := r.args[run]
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

type fakeMonitor struct {
	mu      sync.Mutex
	plays   []time.Duration
	pauses  int
	closeds int
}

func (m *fakeMonitor) Play(ctx context.Context, path string, offset time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays = append(m.plays, offset)
	return nil
}

func (m *fakeMonitor) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses++
	return nil
}

func (m *fakeMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeds++
	return nil
}

// 10ms frames at 8kHz are 160 bytes
var testCaptureConfig = CaptureConfig{SampleRate: 8000, FrameMs: 10}

func tempMediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("failed to write media file: %v", err)
	}
	return path
}

func receiveFrames(t *testing.T, frames <-chan ports.Frame, n int) []ports.Frame {
	t.Helper()
	var got []ports.Frame
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case frame, ok := <-frames:
			if !ok {
				t.Fatalf("frame channel closed after %d of %d frames", len(got), n)
			}
			got = append(got, frame)
		case <-timeout:
			t.Fatalf("timed out after %d of %d frames", len(got), n)
		}
	}
	return got
}

func expectClosed(t *testing.T, frames <-chan ports.Frame) {
	t.Helper()
	select {
	case _, ok := <-frames:
		if ok {
			t.Fatal("expected frame channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame channel to close")
	}
}

func TestFileSource_PauseResumeKeepsPosition(t *testing.T) {
	runner := &fakeRunner{}
	monitor := &fakeMonitor{}
	source := NewFileSource(tempMediaFile(t), runner, testCaptureConfig, monitor)

	frames, err := source.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := runner.argAfter(0, "-ss"); got != "0.000" {
		t.Errorf("Expected first run at -ss 0.000, got %q", got)
	}

	runner.proc(0).data <- make([]byte, 1600)
	receiveFrames(t, frames, 10)

	if err := source.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	expectClosed(t, frames)

	if source.Position() != 100*time.Millisecond {
		t.Errorf("Expected paused position 100ms, got %v", source.Position())
	}

	frames, err = source.Start(context.Background())
	if err != nil {
		t.Fatalf("resume Start failed: %v", err)
	}
	if got := runner.argAfter(1, "-ss"); got != "0.100" {
		t.Errorf("Expected resume at -ss 0.100, got %q", got)
	}

	runner.proc(1).data <- make([]byte, 160)
	got := receiveFrames(t, frames, 1)
	if got[0].Offset != 100*time.Millisecond {
		t.Errorf("Expected first resumed frame at 100ms, got %v", got[0].Offset)
	}

	if len(monitor.plays) != 2 || monitor.plays[1] != 100*time.Millisecond {
		t.Errorf("Expected monitor to resume at 100ms, got %v", monitor.plays)
	}
	if monitor.pauses != 1 {
		t.Errorf("Expected 1 monitor pause, got %d", monitor.pauses)
	}

	if err := source.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if monitor.closeds != 1 {
		t.Errorf("Expected monitor to be closed, got %d closes", monitor.closeds)
	}
}

func TestFileSource_SeekWhileRunningKeepsChannel(t *testing.T) {
	runner := &fakeRunner{}
	monitor := &fakeMonitor{}
	source := NewFileSource(tempMediaFile(t), runner, testCaptureConfig, monitor)

	frames, err := source.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := source.Seek(5 * time.Second); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if got := runner.argAfter(1, "-ss"); got != "5.000" {
		t.Errorf("Expected restart at -ss 5.000, got %q", got)
	}

	runner.proc(1).data <- make([]byte, 160)
	got := receiveFrames(t, frames, 1)
	if got[0].Offset != 5*time.Second {
		t.Errorf("Expected frame at 5s, got %v", got[0].Offset)
	}
	if last := monitor.plays[len(monitor.plays)-1]; last != 5*time.Second {
		t.Errorf("Expected monitor to follow the seek, got %v", last)
	}

	source.Stop()
}

func TestFileSource_SeekWhilePausedMovesResumePoint(t *testing.T) {
	runner := &fakeRunner{}
	source := NewFileSource(tempMediaFile(t), runner, testCaptureConfig, nil)

	if _, err := source.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	source.Pause()

	if err := source.Seek(42 * time.Second); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if len(runner.args) != 1 {
		t.Errorf("Expected no process while paused, got %d runs", len(runner.args))
	}

	if _, err := source.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := runner.argAfter(1, "-ss"); got != "42.000" {
		t.Errorf("Expected resume at -ss 42.000, got %q", got)
	}
	source.Stop()
}

func TestFileSource_EndOfFileClosesChannel(t *testing.T) {
	runner := &fakeRunner{}
	source := NewFileSource(tempMediaFile(t), runner, testCaptureConfig, nil)

	frames, err := source.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	proc := runner.proc(0)
	proc.data <- make([]byte, 200)
	close(proc.data)

	got := receiveFrames(t, frames, 2)
	if len(got[1].Data) != 40 {
		t.Errorf("Expected trailing 40-byte frame, got %d bytes", len(got[1].Data))
	}
	expectClosed(t, frames)

	if err := source.Stop(); err != nil {
		t.Errorf("Stop after end of file failed: %v", err)
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	runner := &fakeRunner{}
	source := NewFileSource(filepath.Join(t.TempDir(), "missing.wav"), runner, testCaptureConfig, nil)

	_, err := source.Start(context.Background())
	if !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Errorf("Expected ErrCaptureUnavailable, got %v", err)
	}
	if len(runner.args) != 0 {
		t.Error("Expected no decoder to be started for a missing file")
	}
}

func TestMicrophoneSource_RunnerFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no such device")}
	source := NewMicrophoneSource(runner, testCaptureConfig)

	_, err := source.Start(context.Background())
	if !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Errorf("Expected ErrCaptureUnavailable, got %v", err)
	}
}

func TestMicrophoneSource_ResumeReacquiresDevice(t *testing.T) {
	runner := &fakeRunner{}
	source := NewMicrophoneSource(runner, CaptureConfig{SampleRate: 8000, FrameMs: 10, InputFormat: "alsa", InputDevice: "hw:1"})

	if source.Mode() != domain.CaptureModeMicrophone {
		t.Errorf("Expected microphone mode, got %s", source.Mode())
	}

	frames, err := source.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := runner.argAfter(0, "-i"); got != "hw:1" {
		t.Errorf("Expected input device hw:1, got %q", got)
	}
	if _, err := source.Start(context.Background()); err == nil {
		t.Error("Expected error when starting a running source")
	}

	source.Pause()
	expectClosed(t, frames)

	if _, err := source.Start(context.Background()); err != nil {
		t.Fatalf("resume Start failed: %v", err)
	}
	if len(runner.args) != 2 {
		t.Errorf("Expected a fresh process on resume, got %d runs", len(runner.args))
	}

	source.Stop()
	if _, err := source.Start(context.Background()); !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Errorf("Expected ErrCaptureUnavailable after Stop, got %v", err)
	}
}

func TestSilentSource(t *testing.T) {
	source := NewSilentSource()

	frames, err := source.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-frames:
		t.Fatal("Expected no frames from a silent source")
	case <-time.After(20 * time.Millisecond):
	}

	source.Pause()
	expectClosed(t, frames)

	frames, _ = source.Start(context.Background())
	source.Stop()
	expectClosed(t, frames)
}

func TestFFmpegRunner_StartReadAndStop(t *testing.T) {
	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	runner := NewFFmpegRunner(script)

	proc, err := runner.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := proc.Read(buf)
	if n <= 0 {
		t.Fatalf("Expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Errorf("Unexpected bytes: %q", string(buf[:n]))
	}

	if err := proc.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestFFmpegRunner_EarlyExit(t *testing.T) {
	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	runner := NewFFmpegRunner(script)
	runner.StartupWait = time.Second

	_, err := runner.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
