package session

import (
	"context"
	"errors"
	"sync"

	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
)

// generation is one capture/transport pairing, from open to teardown. A
// generation does not open its connection until the previous one is done,
// so two are never live at once.
type generation struct {
	seq      int
	halt     chan struct{}
	haltOnce sync.Once
	done     chan struct{}

	closed bool // loop-owned
}

func (g *generation) stop() {
	g.haltOnce.Do(func() { close(g.halt) })
}

func (g *generation) halted() bool {
	select {
	case <-g.halt:
		return true
	default:
		return false
	}
}

func (c *Controller) openGeneration(s *sessionState, frames <-chan ports.Frame) {
	c.genSeq++
	g := &generation{
		seq:  c.genSeq,
		halt: make(chan struct{}),
		done: make(chan struct{}),
	}
	prev := c.lastGen
	s.gen = g
	c.lastGen = g
	s.conn = domain.ConnectionConnecting

	go c.runGeneration(s, g, prev, frames)
}

func (c *Controller) haltGeneration(s *sessionState) {
	if s.gen != nil {
		s.gen.stop()
	}
}

func (c *Controller) params(s *sessionState) ports.SessionParams {
	params := ports.SessionParams{
		SessionID:  s.id,
		AuthToken:  c.opts.AuthToken,
		SampleRate: c.opts.SampleRate,
		Encoding:   c.opts.Encoding,
	}
	if e := s.pipeline.Encoder; e != nil {
		params.SampleRate = e.SampleRate()
		params.Encoding = e.Encoding()
	}
	return params
}

func (c *Controller) runGeneration(s *sessionState, g, prev *generation, frames <-chan ports.Frame) {
	defer func() {
		close(g.done)
		c.post(func() { c.generationClosed(s, g) })
	}()

	if prev != nil {
		<-prev.done
	}

	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	go func() {
		select {
		case <-g.halt:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := s.pipeline.Transport.Open(ctx, c.params(s))
	c.post(func() { c.connOpened(s, g, err) })
	if err != nil {
		if c.pump(s, g, nil, frames) {
			c.post(func() { c.sourceEnded(s) })
		}
		return
	}

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for event := range conn.Events() {
			event := event
			c.post(func() { c.transportEvent(s, g, event) })
		}
	}()

	if c.pump(s, g, conn, frames) {
		c.post(func() { c.sourceEnded(s) })
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), c.opts.CloseGrace+closeSlack)
	if err := conn.Close(closeCtx); err != nil {
		s.logger.Warn().Err(err).Int("generation", g.seq).Msg("Transcription close failed")
	}
	cancelClose()
	<-forwarded
}

// pump streams frames to conn until the generation is halted or the source
// runs dry. It reports whether the source ended on its own. A nil conn
// drops every frame.
func (c *Controller) pump(s *sessionState, g *generation, conn ports.Connection, frames <-chan ports.Frame) bool {
	for {
		select {
		case <-g.halt:
			return false

		case frame, ok := <-frames:
			if !ok {
				return !g.halted()
			}

			if frame.Speech != "" {
				event := domain.SpeechEvent{Kind: frame.Speech, Local: true, At: c.opts.Now()}
				c.post(func() { c.speechActivity(s, event) })
			}
			s.stats.RecordAudioBytes("captured", int64(len(frame.Data)))

			if conn == nil {
				s.stats.RecordFrameDropped()
				continue
			}
			data, err := s.pipeline.encode(frame.Data)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to encode audio frame")
				continue
			}
			if err := conn.Send(data); err != nil {
				s.stats.RecordFrameDropped()
				if !errors.Is(err, domain.ErrNotReady) {
					s.logger.Debug().Err(err).Msg("Failed to send audio frame")
				}
				continue
			}
			s.stats.RecordAudioBytes("sent", int64(len(data)))
		}
	}
}

func (c *Controller) connOpened(s *sessionState, g *generation, err error) {
	if c.sess != s || s.gen != g || g.halted() {
		return
	}

	if err != nil {
		s.conn = domain.ConnectionDisconnected
		s.stats.RecordConnect(false)
		s.stats.RecordError("transport", "transport")
		s.logger.Error().Err(err).Int("generation", g.seq).Msg("Transcription connection failed, recording continues")
		c.sink.SessionError(domain.ErrorCodeTransport, err.Error())
	} else {
		s.conn = domain.ConnectionConnected
		s.stats.RecordConnect(true)
		s.logger.Info().Int("generation", g.seq).Msg("Transcription connected")
	}
	c.emitStatus(s)
}

func (c *Controller) generationClosed(s *sessionState, g *generation) {
	g.closed = true
	if c.sess != s || s.gen != g {
		return
	}

	if s.conn != domain.ConnectionDisconnected {
		s.conn = domain.ConnectionDisconnected
		c.emitStatus(s)
	}
	if s.state == domain.SessionStateStopped {
		c.summarize(s)
	}
}
