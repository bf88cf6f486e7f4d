package transport

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/ports"
)

//go:embed scripts/default.yaml
var defaultScript []byte

// Script is a scripted-test session: phases of timed exchanges
type Script struct {
	Phases []Phase `yaml:"phases"`
}

// Phase groups exchanges for logging
type Phase struct {
	Name      string     `yaml:"name"`
	Exchanges []Exchange `yaml:"exchanges"`
}

// Exchange is one utterance, spoken after Delay seconds
type Exchange struct {
	Speaker string  `yaml:"speaker"`
	Text    string  `yaml:"text"`
	Delay   float64 `yaml:"delay"`
}

// ParseScript decodes a YAML script
func ParseScript(data []byte) (*Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(script.exchanges()) == 0 {
		return nil, fmt.Errorf("script has no exchanges")
	}
	return &script, nil
}

// LoadScript reads a YAML script from disk. An empty path loads the
// built-in session.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return ParseScript(defaultScript)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return ParseScript(data)
}

func (s *Script) exchanges() []scriptedLine {
	var lines []scriptedLine
	for _, phase := range s.Phases {
		for _, ex := range phase.Exchanges {
			if strings.TrimSpace(ex.Text) == "" {
				continue
			}
			lines = append(lines, scriptedLine{phase: phase.Name, Exchange: ex})
		}
	}
	return lines
}

type scriptedLine struct {
	phase string
	Exchange
}

// ScriptedBackend replays a script as transcription events. The position
// survives close and reopen, so pause/resume continues from the exchange
// that was interrupted.
type ScriptedBackend struct {
	lines []scriptedLine
	unit  time.Duration

	cursor   atomic.Int64
	finished chan struct{}
	once     sync.Once
}

// NewScriptedBackend creates a backend replaying script. unit is the real
// duration of one second of script delay; zero means time.Second.
func NewScriptedBackend(script *Script, unit time.Duration) *ScriptedBackend {
	if unit <= 0 {
		unit = time.Second
	}
	return &ScriptedBackend{
		lines:    script.exchanges(),
		unit:     unit,
		finished: make(chan struct{}),
	}
}

// Finished is closed after the last exchange has been emitted
func (b *ScriptedBackend) Finished() <-chan struct{} {
	return b.finished
}

// Position returns the index of the next exchange
func (b *ScriptedBackend) Position() int {
	return int(b.cursor.Load())
}

// Open starts replaying from the current position
func (b *ScriptedBackend) Open(ctx context.Context, params ports.SessionParams) (ports.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	playCtx, cancel := context.WithCancel(context.Background())
	c := &scriptedConnection{
		backend: b,
		cancel:  cancel,
		events:  make(chan domain.TransportEvent, eventBufferSize),
		done:    make(chan struct{}),
	}
	c.events <- domain.ReadyEvent{SessionID: params.SessionID, At: time.Now()}
	go c.play(playCtx, params.SessionID)
	return c, nil
}

type scriptedConnection struct {
	backend *ScriptedBackend
	cancel  context.CancelFunc
	events  chan domain.TransportEvent
	done    chan struct{}
	closed  atomic.Bool
}

func (c *scriptedConnection) play(ctx context.Context, sessionID string) {
	defer close(c.done)
	defer close(c.events)

	b := c.backend
	logger := observability.WithSession(sessionID).With().Str("component", "scripted").Logger()

	for {
		i := int(b.cursor.Load())
		if i >= len(b.lines) {
			b.once.Do(func() { close(b.finished) })
			logger.Info().Msg("Script finished")
			return
		}
		line := b.lines[i]
		delay := time.Duration(line.Delay * float64(b.unit))

		if !c.wait(ctx, delay/2) {
			return
		}
		words := strings.Fields(line.Text)
		interim := strings.Join(words[:(len(words)+1)/2], " ")
		if !c.emit(ctx, domain.SpeechEvent{Kind: domain.SpeechStart, At: time.Now()}) ||
			!c.emit(ctx, domain.TranscriptEvent{Text: interim, Speaker: line.Speaker, Confidence: 0.8, Timestamp: time.Now()}) {
			return
		}

		if !c.wait(ctx, delay-delay/2) {
			return
		}
		if !c.emit(ctx, domain.TranscriptEvent{Text: line.Text, Speaker: line.Speaker, Confidence: 0.95, IsFinal: true, Timestamp: time.Now()}) {
			return
		}
		b.cursor.Add(1)
		logger.Debug().Str("phase", line.phase).Int("exchange", i).Msg("Scripted exchange emitted")

		if !c.emit(ctx, domain.SpeechEvent{Kind: domain.SpeechEnd, At: time.Now()}) {
			return
		}
	}
}

func (c *scriptedConnection) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *scriptedConnection) emit(ctx context.Context, event domain.TransportEvent) bool {
	select {
	case c.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// Send accepts and discards audio; the script is the transcript
func (c *scriptedConnection) Send(frame []byte) error {
	if c.closed.Load() {
		return domain.ErrNotReady
	}
	return nil
}

func (c *scriptedConnection) Events() <-chan domain.TransportEvent {
	return c.events
}

// Close stops replay. An interrupted exchange is replayed on reopen.
func (c *scriptedConnection) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
