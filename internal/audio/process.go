package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is a running decoder whose stdout is linear16 PCM.
type Process interface {
	io.Reader
	Stop() error
}

// Runner starts decoder processes. FFmpegRunner is the production runner;
// tests substitute scripted fakes.
type Runner interface {
	Run(ctx context.Context, args []string) (Process, error)
}

// FFmpegRunner runs ffmpeg (or a compatible command) with the given arguments.
type FFmpegRunner struct {
	Command string
	// StartupWait is how long Run waits to catch an immediate exit, such as a
	// missing input device.
	StartupWait time.Duration
}

// NewFFmpegRunner creates a runner for command, defaulting to ffmpeg
func NewFFmpegRunner(command string) *FFmpegRunner {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegRunner{Command: command, StartupWait: 250 * time.Millisecond}
}

func (r *FFmpegRunner) Run(ctx context.Context, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, r.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s stdout pipe: %w", r.Command, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", r.Command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	proc := &ffmpegProcess{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}

	select {
	case err, ok := <-waitErr:
		proc.exited(err, ok)
		if err != nil {
			return nil, fmt.Errorf("%s exited before capture started: %w: %s", r.Command, err, trimStderr(stderr.String()))
		}
		return nil, fmt.Errorf("%s exited before capture started", r.Command)
	case <-time.After(r.StartupWait):
	}

	return proc, nil
}

type ffmpegProcess struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	mu       sync.Mutex
	done     bool
	exitErr  error
	stopOnce sync.Once
	stopErr  error
}

func (p *ffmpegProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *ffmpegProcess) exited(err error, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	if ok {
		p.exitErr = err
	}
}

func (p *ffmpegProcess) hasExited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop interrupts the process, escalating to kill if it does not exit
func (p *ffmpegProcess) Stop() error {
	p.stopOnce.Do(func() {
		if !p.hasExited() {
			if p.process != nil {
				_ = p.process.Signal(os.Interrupt)
			}

			select {
			case err, ok := <-p.waitErr:
				p.exited(err, ok)
			case <-time.After(1200 * time.Millisecond):
				if p.process != nil {
					_ = p.process.Kill()
				}
				err, ok := <-p.waitErr
				p.exited(err, ok)
			}
		}

		p.mu.Lock()
		p.stopErr = normalizeStopErr(p.exitErr)
		p.mu.Unlock()

		if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if p.stopErr == nil {
				p.stopErr = closeErr
			}
		}

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, trimStderr(p.stderr.String()))
		}
	})

	return p.stopErr
}

// normalizeStopErr ignores the non-zero exit caused by our own interrupt
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimStderr(input string) string {
	return string(bytes.TrimSpace([]byte(input)))
}
