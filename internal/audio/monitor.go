package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// FFplayMonitor plays a file for the listener with ffplay. ffplay cannot be
// paused from outside, so Pause ends the player and the next Play restarts
// it at the capture offset.
type FFplayMonitor struct {
	command string

	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{}
	closed bool
}

// NewFFplayMonitor creates a monitor for command, defaulting to ffplay
func NewFFplayMonitor(command string) *FFplayMonitor {
	if command == "" {
		command = "ffplay"
	}
	return &FFplayMonitor{command: command}
}

func (m *FFplayMonitor) Play(ctx context.Context, path string, offset time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("playback monitor closed")
	}
	m.kill()

	cmd := exec.CommandContext(ctx, m.command,
		"-nodisp",
		"-autoexit",
		"-loglevel", "quiet",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		path,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", m.command, err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	m.cmd = cmd
	m.done = done
	return nil
}

func (m *FFplayMonitor) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kill()
	return nil
}

func (m *FFplayMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kill()
	m.closed = true
	return nil
}

// kill must be called with mu held
func (m *FFplayMonitor) kill() {
	if m.cmd == nil {
		return
	}
	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	<-m.done
	m.cmd = nil
	m.done = nil
}
