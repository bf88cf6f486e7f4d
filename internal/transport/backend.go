package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/therassist/session-coordinator/internal/config"
	"github.com/therassist/session-coordinator/internal/ports"
	"github.com/therassist/session-coordinator/internal/resilience"
)

// Backend is a live transcription transport with a readiness probe
type Backend interface {
	ports.Transport
	Check(ctx context.Context) (bool, error)
}

// New builds the live transcription backend selected by configuration
func New(cfg *config.Config) (Backend, error) {
	reconnect := &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Second,
	}

	switch cfg.TranscriptionBackend {
	case config.BackendWebSocket:
		return NewWebSocketBackend(WebSocketConfig{
			URL:              cfg.TranscriptionURL,
			HandshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
			CloseGrace:       cfg.CloseGrace(),
			Reconnect:        reconnect,
		}), nil
	case config.BackendDeepgram:
		return NewDeepgramBackend(DeepgramConfig{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.DeepgramModel,
			Language:   cfg.DeepgramLanguage,
			CloseGrace: cfg.CloseGrace(),
			Reconnect:  reconnect,
			Breaker: resilience.NewCircuitBreaker(
				"deepgram",
				cfg.CircuitBreakerMaxFailures,
				time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
			),
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.TranscriptionBackend)
	}
}
