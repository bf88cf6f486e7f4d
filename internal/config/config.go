package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Transcription backend kinds
const (
	BackendWebSocket = "websocket"
	BackendDeepgram  = "deepgram"
)

// Config holds all configuration for the session coordinator
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service

	// Transcription backend
	TranscriptionBackend   string `envconfig:"TRANSCRIPTION_BACKEND" default:"websocket"` // websocket, deepgram
	TranscriptionURL       string `envconfig:"TRANSCRIPTION_URL" default:"ws://localhost:8082/ws/transcribe"`
	TranscriptionAuthToken string `envconfig:"TRANSCRIPTION_AUTH_TOKEN" default:""`
	HandshakeTimeout       int    `envconfig:"TRANSCRIPTION_HANDSHAKE_TIMEOUT" default:"10"` // seconds
	CloseGraceMs           int    `envconfig:"TRANSCRIPTION_CLOSE_GRACE" default:"1000"`     // Wait for trailing finals on close
	ScriptPath             string `envconfig:"SCRIPT_PATH" default:""`                       // scripted-test mode, empty uses the built-in script

	// Deepgram STT API configuration (TRANSCRIPTION_BACKEND=deepgram)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Analysis backend
	AnalysisURL           string  `envconfig:"ANALYSIS_URL" required:"true"`
	AnalysisTimeout       int     `envconfig:"ANALYSIS_TIMEOUT" default:"120"`       // seconds, per request
	ComprehensiveTimeout  int     `envconfig:"COMPREHENSIVE_TIMEOUT" default:"90"`   // seconds before an awaited job expires
	AnalysisWordThreshold int     `envconfig:"ANALYSIS_WORD_THRESHOLD" default:"10"` // New final words per dispatch
	AnalysisWindowMinutes int     `envconfig:"ANALYSIS_WINDOW_MINUTES" default:"5"`  // Trailing transcript sent per dispatch
	AlertMaxVisible       int     `envconfig:"ALERT_MAX_VISIBLE" default:"8"`        // Visible alert cap
	AlertRecencyWindow    int     `envconfig:"ALERT_RECENCY_WINDOW" default:"60"`    // seconds
	AlertSimilarity       float64 `envconfig:"ALERT_SIMILARITY" default:"0.6"`       // Jaccard threshold for duplicates
	ElapsedTickMs         int     `envconfig:"ELAPSED_TICK" default:"1000"`          // Elapsed display refresh

	// Default session context sent with every analysis request
	SessionType     string `envconfig:"SESSION_TYPE" default:"General Therapy"`
	PrimaryConcern  string `envconfig:"PRIMARY_CONCERN" default:""`
	CurrentApproach string `envconfig:"CURRENT_APPROACH" default:""`

	// Audio capture configuration
	SampleRate         int     `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`     // Capture sample rate
	TransportRate      int     `envconfig:"TRANSPORT_SAMPLE_RATE" default:"16000"` // Rate declared in the handshake
	Encoding           string  `envconfig:"AUDIO_ENCODING" default:"linear16"`     // linear16, mulaw
	FrameMs            int     `envconfig:"AUDIO_FRAME_MS" default:"100"`
	FFmpegCommand      string  `envconfig:"FFMPEG_COMMAND" default:"ffmpeg"`
	FFplayCommand      string  `envconfig:"FFPLAY_COMMAND" default:"ffplay"`
	InputFormat        string  `envconfig:"AUDIO_INPUT_FORMAT" default:"pulse"`
	InputDevice        string  `envconfig:"AUDIO_INPUT_DEVICE" default:"default"`
	MonitorEnabled     bool    `envconfig:"AUDIO_MONITOR_ENABLED" default:"false"` // Play file sources locally
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"65536"`     // Ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"500"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AnalysisURL) == "" {
		return fmt.Errorf("ANALYSIS_URL is required")
	}

	switch c.TranscriptionBackend {
	case BackendWebSocket:
		if strings.TrimSpace(c.TranscriptionURL) == "" {
			return fmt.Errorf("TRANSCRIPTION_URL is required for the websocket backend")
		}
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required for the deepgram backend")
		}
	default:
		return fmt.Errorf("unknown TRANSCRIPTION_BACKEND %q", c.TranscriptionBackend)
	}

	switch c.Encoding {
	case "linear16", "mulaw":
	default:
		return fmt.Errorf("unsupported AUDIO_ENCODING %q", c.Encoding)
	}

	if c.AnalysisWordThreshold <= 0 {
		return fmt.Errorf("ANALYSIS_WORD_THRESHOLD must be positive")
	}
	if c.AnalysisWindowMinutes <= 0 {
		return fmt.Errorf("ANALYSIS_WINDOW_MINUTES must be positive")
	}
	if c.AlertMaxVisible <= 0 {
		return fmt.Errorf("ALERT_MAX_VISIBLE must be positive")
	}
	if c.SampleRate <= 0 || c.TransportRate <= 0 || c.FrameMs <= 0 {
		return fmt.Errorf("audio sample rates and frame duration must be positive")
	}
	return nil
}

// AnalysisWindow returns the trailing transcript window sent per dispatch
func (c *Config) AnalysisWindow() time.Duration {
	return time.Duration(c.AnalysisWindowMinutes) * time.Minute
}

// CloseGrace returns how long a closing transport waits for trailing finals
func (c *Config) CloseGrace() time.Duration {
	return time.Duration(c.CloseGraceMs) * time.Millisecond
}
