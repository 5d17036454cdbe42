package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
	"github.com/lexiqai/sentiment-gateway/internal/config"
	"github.com/lexiqai/sentiment-gateway/internal/content"
	"github.com/lexiqai/sentiment-gateway/internal/fusion"
	"github.com/lexiqai/sentiment-gateway/internal/observability"
	"github.com/lexiqai/sentiment-gateway/internal/prosody"
	"github.com/lexiqai/sentiment-gateway/internal/publish"
	"github.com/lexiqai/sentiment-gateway/internal/resilience"
)

// Factory builds sessions from the process configuration. Every session gets
// its own analyzer clients, breakers and fusion engine.
type Factory struct {
	cfg       *config.Config
	publisher publish.Publisher
}

// NewFactory creates a factory. A nil publisher disables downstream sinks.
func NewFactory(cfg *config.Config, publisher publish.Publisher) *Factory {
	if publisher == nil {
		publisher = publish.Nop{}
	}
	return &Factory{cfg: cfg, publisher: publisher}
}

// New creates a session in the Connected state. If setup fails the
// returned session is already Closed and the error is a *SetupError
// carrying the message for the client.
func (f *Factory) New(id string) (*Orchestrator, error) {
	correlationID := observability.NewCorrelationID()
	logger := observability.WithSession(id, correlationID)

	if key := f.cfg.MissingCredential(); key != "" {
		return f.setupFailed(id, logger, &SetupError{
			Reason:  "missing_credentials",
			Message: fmt.Sprintf("%s environment variable is required", key),
			Err:     analysis.ErrMissingCredentials,
		})
	}

	retry := &resilience.RetryConfig{
		MaxAttempts:       f.cfg.RetryMaxAttempts,
		InitialBackoff:    f.cfg.RetryBackoff(),
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	prosodyBreaker := f.newBreaker(analysis.AnalyzerProsody, logger)
	contentBreaker := f.newBreaker(analysis.AnalyzerContent, logger)

	hume, err := prosody.NewHumeClient(prosody.Options{
		APIKey:       f.cfg.HumeAPIKey,
		BaseURL:      f.cfg.HumeBaseURL,
		PollInterval: f.cfg.ProsodyPollInterval,
		Timeout:      f.cfg.ProsodyTimeout,
		Breaker:      prosodyBreaker,
		Retry:        retry,
		Logger:       &logger,
	})
	if err != nil {
		return f.setupFailed(id, logger, &SetupError{Reason: "client_init", Err: err})
	}

	gemini, err := content.NewGeminiClient(content.Options{
		APIKey:   f.cfg.GeminiAPIKey,
		BaseURL:  f.cfg.GeminiBaseURL,
		Model:    f.cfg.GeminiModel,
		Timeout:  f.cfg.ContentTimeout,
		MIMEType: f.cfg.AudioMIMEType,
		Breaker:  contentBreaker,
		Logger:   &logger,
	})
	if err != nil {
		return f.setupFailed(id, logger, &SetupError{Reason: "client_init", Err: err})
	}

	opts := fusion.DefaultOptions()
	opts.WindowSize = f.cfg.SmoothingWindow
	opts.ContemptThreshold = f.cfg.ContemptThreshold
	engine, err := fusion.NewEngine(opts)
	if err != nil {
		return f.setupFailed(id, logger, &SetupError{Reason: "client_init", Err: err})
	}

	logger.Info().
		Int("smoothing_window", opts.WindowSize).
		Float64("contempt_threshold", opts.ContemptThreshold).
		Msg("Session created")

	return NewOrchestrator(Deps{
		ID:            id,
		Prosody:       hume,
		Content:       gemini,
		Engine:        engine,
		Publisher:     f.publisher,
		MaxChunkBytes: f.cfg.MaxChunkBytes,
		DefaultMIME:   f.cfg.AudioMIMEType,
		Breakers:      []*resilience.CircuitBreaker{prosodyBreaker, contentBreaker},
		Metrics:       observability.NewSessionMetrics(id),
		Logger:        logger,
	}), nil
}

func (f *Factory) newBreaker(name string, logger zerolog.Logger) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, f.cfg.CircuitBreakerMaxFailures, f.cfg.BreakerResetTimeout())
	cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
		trackOpenBreakers(name, from, to)
		logger.Warn().
			Str("service", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})
	return cb
}

// trackOpenBreakers keeps the open-breaker gauge in step with a transition.
// Open and half-open both count as open.
func trackOpenBreakers(name string, from, to resilience.CircuitState) {
	switch {
	case from == resilience.StateClosed && to != resilience.StateClosed:
		observability.BreakerOpened(name)
	case from != resilience.StateClosed && to == resilience.StateClosed:
		observability.BreakerClosed(name)
	}
}

func (f *Factory) setupFailed(id string, logger zerolog.Logger, err *SetupError) (*Orchestrator, error) {
	observability.RecordSetupFailure(err.Reason)
	logger.Error().Err(err).Str("reason", err.Reason).Msg("Session setup failed")

	o := NewOrchestrator(Deps{ID: id, Logger: logger})
	o.Close()
	return o, err
}
