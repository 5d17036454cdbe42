package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Limits enforced by Validate. The upstream providers document no hard
// chunk or window size, so these are the service's own bounds.
const (
	MinChunkBytes      = 1 << 10
	MaxChunkBytesCap   = 25 << 20
	MinSmoothingWindow = 1
	MaxSmoothingWindow = 50
)

// Config holds all configuration for the sentiment gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Prosody (Hume batch API) configuration.
	// The key is checked when a session is set up, not at process start.
	HumeAPIKey          string        `envconfig:"HUME_API_KEY"`
	HumeBaseURL         string        `envconfig:"HUME_BASE_URL" default:"https://api.hume.ai"`
	ProsodyPollInterval time.Duration `envconfig:"PROSODY_POLL_INTERVAL" default:"1s"`
	ProsodyTimeout      time.Duration `envconfig:"PROSODY_TIMEOUT" default:"30s"` // polling budget per chunk

	// Content (Gemini multimodal) configuration
	GeminiAPIKey   string        `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL  string        `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	GeminiModel    string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	ContentTimeout time.Duration `envconfig:"CONTENT_TIMEOUT" default:"30s"`

	// Audio configuration
	AudioMIMEType string `envconfig:"AUDIO_MIME_TYPE" default:"audio/webm"` // used when the container can't be sniffed
	MaxChunkBytes int    `envconfig:"MAX_CHUNK_BYTES" default:"5242880"`

	// Fusion configuration
	SmoothingWindow   int     `envconfig:"SMOOTHING_WINDOW" default:"5"`
	ContemptThreshold float64 `envconfig:"CONTEMPT_THRESHOLD" default:"0.5"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Downstream sinks. Each one is disabled while its address is empty.
	MQTTBroker      string `envconfig:"MQTT_BROKER" default:""`
	MQTTClientID    string `envconfig:"MQTT_CLIENT_ID" default:"sentiment-gateway"`
	MQTTUsername    string `envconfig:"MQTT_USERNAME" default:""`
	MQTTPassword    string `envconfig:"MQTT_PASSWORD" default:""`
	MQTTTopicPrefix string `envconfig:"MQTT_TOPIC_PREFIX" default:"sentiment/results"`
	RedisURL        string `envconfig:"REDIS_URL" default:""`
	RedisChannel    string `envconfig:"REDIS_CHANNEL" default:"sentiment:results"`

	// Observability configuration
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""`    // gRPC health service, off when empty
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
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

// Validate checks the configured limits. Missing credentials are not an
// error here; see MissingCredential.
func (c *Config) Validate() error {
	if c.MaxChunkBytes < MinChunkBytes || c.MaxChunkBytes > MaxChunkBytesCap {
		return fmt.Errorf("MAX_CHUNK_BYTES must be between %d and %d, got %d", MinChunkBytes, MaxChunkBytesCap, c.MaxChunkBytes)
	}
	if c.SmoothingWindow < MinSmoothingWindow || c.SmoothingWindow > MaxSmoothingWindow {
		return fmt.Errorf("SMOOTHING_WINDOW must be between %d and %d, got %d", MinSmoothingWindow, MaxSmoothingWindow, c.SmoothingWindow)
	}
	if c.ContemptThreshold < 0 || c.ContemptThreshold > 1 {
		return fmt.Errorf("CONTEMPT_THRESHOLD must be within [0,1], got %g", c.ContemptThreshold)
	}
	if c.ProsodyPollInterval <= 0 {
		return fmt.Errorf("PROSODY_POLL_INTERVAL must be positive")
	}
	if c.ProsodyTimeout < c.ProsodyPollInterval {
		return fmt.Errorf("PROSODY_TIMEOUT (%s) must not be shorter than PROSODY_POLL_INTERVAL (%s)", c.ProsodyTimeout, c.ProsodyPollInterval)
	}
	if c.ContentTimeout <= 0 {
		return fmt.Errorf("CONTENT_TIMEOUT must be positive")
	}
	return nil
}

// MissingCredential returns the name of the first analyzer credential that
// is not set, or "" when both are present.
func (c *Config) MissingCredential() string {
	if c.HumeAPIKey == "" {
		return "HUME_API_KEY"
	}
	if c.GeminiAPIKey == "" {
		return "GEMINI_API_KEY"
	}
	return ""
}

// RetryBackoff returns the initial retry backoff as a duration
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// BreakerResetTimeout returns the circuit breaker reset timeout as a duration
func (c *Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}
