package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HUME_API_KEY", "GEMINI_API_KEY", "SMOOTHING_WINDOW", "CONTEMPT_THRESHOLD",
		"MAX_CHUNK_BYTES", "PROSODY_POLL_INTERVAL", "PROSODY_TIMEOUT", "LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv("HUME_API_KEY", "test-hume-key")
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-hume-key", cfg.HumeAPIKey)
	assert.Equal(t, "test-gemini-key", cfg.GeminiAPIKey)
	assert.Empty(t, cfg.MissingCredential())
}

func TestLoad_MissingCredentialsIsNotFatal(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err, "Load should succeed without credentials")
	assert.Equal(t, "HUME_API_KEY", cfg.MissingCredential())

	t.Setenv("HUME_API_KEY", "test-hume-key")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "GEMINI_API_KEY", cfg.MissingCredential())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Second, cfg.ProsodyPollInterval)
	assert.Equal(t, 30*time.Second, cfg.ProsodyTimeout)
	assert.Equal(t, "gemini-2.0-flash", cfg.GeminiModel)
	assert.Equal(t, "audio/webm", cfg.AudioMIMEType)
	assert.Equal(t, 5242880, cfg.MaxChunkBytes)
	assert.Equal(t, 5, cfg.SmoothingWindow)
	assert.Equal(t, 0.5, cfg.ContemptThreshold)
	assert.Empty(t, cfg.MQTTBroker, "sinks are disabled by default")
	assert.Empty(t, cfg.RedisURL, "sinks are disabled by default")
}

func TestLoad_RejectsOutOfRangeWindow(t *testing.T) {
	clearEnv(t)

	for _, value := range []string{"0", "51"} {
		t.Setenv("SMOOTHING_WINDOW", value)
		_, err := Load()
		assert.Error(t, err, "SMOOTHING_WINDOW=%s", value)
	}
}

func TestLoad_RejectsBadThresholdAndChunkSize(t *testing.T) {
	clearEnv(t)

	t.Setenv("CONTEMPT_THRESHOLD", "1.5")
	_, err := Load()
	assert.Error(t, err, "CONTEMPT_THRESHOLD=1.5")
	os.Unsetenv("CONTEMPT_THRESHOLD")

	t.Setenv("MAX_CHUNK_BYTES", "10")
	_, err = Load()
	assert.Error(t, err, "MAX_CHUNK_BYTES=10")
}

func TestLoad_TimeoutShorterThanInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROSODY_POLL_INTERVAL", "2s")
	t.Setenv("PROSODY_TIMEOUT", "1s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HUME_API_KEY", "test-hume-key")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "test-hume-key", cfg.HumeAPIKey)
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.CircuitBreakerMaxFailures)
	assert.Equal(t, 30*time.Second, cfg.BreakerResetTimeout())
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBackoff())
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.True(t, cfg.MetricsEnabled)
	assert.Empty(t, cfg.GRPCHealthPort, "gRPC health is off by default")
}
