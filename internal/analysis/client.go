package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/therassist/session-coordinator/internal/config"
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/resilience"
)

const maxLineBytes = 1024 * 1024

// ClientConfig configures the analysis backend client
type ClientConfig struct {
	URL     string
	Timeout time.Duration // per request, covers the streamed body
	// Each side of a job has its own breaker so a failing comprehensive
	// backend never blocks realtime alerts.
	RealtimeBreaker      *resilience.CircuitBreaker
	ComprehensiveBreaker *resilience.CircuitBreaker
	Retry                *resilience.RetryConfig // summary requests only
}

// Client talks to the therapy analysis backend. Segment analysis streams
// newline-delimited JSON; the session summary is a single JSON object.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates an analysis client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RealtimeBreaker == nil {
		cfg.RealtimeBreaker = resilience.NewCircuitBreaker("analysis_realtime", 5, 30*time.Second)
	}
	if cfg.ComprehensiveBreaker == nil {
		cfg.ComprehensiveBreaker = resilience.NewCircuitBreaker("analysis_comprehensive", 5, 30*time.Second)
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     observability.GetLogger().With().Str("component", "analysis").Logger(),
	}
}

// NewClientFromConfig builds a client from service configuration
func NewClientFromConfig(cfg *config.Config) *Client {
	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
	return NewClient(ClientConfig{
		URL:                  cfg.AnalysisURL,
		Timeout:              time.Duration(cfg.AnalysisTimeout) * time.Second,
		RealtimeBreaker:      resilience.NewCircuitBreaker("analysis_realtime", cfg.CircuitBreakerMaxFailures, resetTimeout),
		ComprehensiveBreaker: resilience.NewCircuitBreaker("analysis_comprehensive", cfg.CircuitBreakerMaxFailures, resetTimeout),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	})
}

// Analyze sends one side of a job and delivers every decoded result line.
// Malformed lines are logged and skipped.
func (c *Client) Analyze(ctx context.Context, req domain.AnalysisRequest, deliver func(domain.AnalysisResult)) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	logger := c.logger.With().Int64("job_id", int64(req.Job)).Str("kind", string(req.Kind)).Logger()

	return c.breaker(req.Kind).Call(func() error {
		resp, err := c.post(ctx, newAnalyzeRequest(req))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return statusError(resp)
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

		delivered := 0
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			result, err := decodeLine(line, req.Kind, req.Job)
			if err != nil {
				logger.Warn().Err(err).Msg("Dropping analysis line")
				continue
			}
			delivered++
			deliver(result)
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read analysis stream: %w", err)
		}

		logger.Debug().Int("results", delivered).Msg("Analysis stream complete")
		return nil
	})
}

func (c *Client) breaker(kind domain.AnalysisKind) *resilience.CircuitBreaker {
	if kind == domain.AnalysisComprehensive {
		return c.cfg.ComprehensiveBreaker
	}
	return c.cfg.RealtimeBreaker
}

// Summarize requests the terminal session summary, retrying transient
// failures.
func (c *Client) Summarize(ctx context.Context, req domain.SummaryRequest) (domain.Summary, error) {
	body := summaryRequest{
		Action:                 actionSessionSummary,
		FullTranscript:         req.FullTranscript,
		SessionMetrics:         req.Metrics,
		SessionDurationMinutes: int(req.DurationMinutes),
	}
	if body.FullTranscript == nil {
		body.FullTranscript = []domain.TranscriptLine{}
	}

	var summary domain.Summary
	err := resilience.RetryContext(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.post(attemptCtx, body)
		if err != nil {
			return resilience.NewRetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return resilience.NewRetryableError(statusError(resp))
		}
		if resp.StatusCode != http.StatusOK {
			return statusError(resp)
		}

		var decoded summaryResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("failed to decode summary: %w", err)
		}
		if decoded.Error != "" {
			return fmt.Errorf("summary failed: %s", decoded.Error)
		}
		summary, err = decodeSummary(decoded.Summary)
		return err
	}, c.cfg.Retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return domain.Summary{}, err
	}

	c.logger.Info().Int("key_moments", len(summary.KeyMoments)).Msg("Session summary received")
	return summary, nil
}

// Check reports whether the analysis backend answers HTTP
func (c *Client) Check(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	// The backend is POST only, so 405 still proves it is up
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("analysis backend returned status %d", resp.StatusCode)
	}
	return true, nil
}

func (c *Client) post(ctx context.Context, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("analysis backend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
}
