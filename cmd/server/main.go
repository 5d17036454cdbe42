package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/sentiment-gateway/internal/config"
	"github.com/lexiqai/sentiment-gateway/internal/observability"
	"github.com/lexiqai/sentiment-gateway/internal/publish"
	"github.com/lexiqai/sentiment-gateway/internal/session"
	"github.com/lexiqai/sentiment-gateway/internal/stream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("gemini_model", cfg.GeminiModel).
		Int("smoothing_window", cfg.SmoothingWindow).
		Float64("contempt_threshold", cfg.ContemptThreshold).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Sentiment Gateway starting")

	if key := cfg.MissingCredential(); key != "" {
		logger.Warn().Str("missing", key).Msg("Analyzer credentials incomplete, sessions will be refused")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Downstream sinks
	publisher, sinkChecks := buildPublishers(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close publishers")
		}
	}()

	checks := map[string]observability.HealthCheckFunc{
		"hume":   observability.CredentialCheck("HUME_API_KEY", cfg.HumeAPIKey),
		"gemini": observability.CredentialCheck("GEMINI_API_KEY", cfg.GeminiAPIKey),
	}
	for name, check := range sinkChecks {
		checks[name] = check
	}

	factory := session.NewFactory(cfg, publisher)
	registry := session.NewRegistry()

	// Create HTTP server
	mux := http.NewServeMux()
	mux.Handle("/ws/audio", stream.NewHandler(ctx, factory, registry, cfg.MaxChunkBytes, logger))
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Read/write deadlines are set per WebSocket connection
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Optional gRPC health service
	var grpcHealth *observability.GRPCHealthServer
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
		if err != nil {
			logger.Fatal().Err(err).Str("port", cfg.GRPCHealthPort).Msg("Failed to listen for gRPC health")
		}
		grpcHealth = observability.NewGRPCHealthServer(checks, logger)
		go grpcHealth.Watch(ctx, 15*time.Second)
		go func() {
			if err := grpcHealth.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("gRPC health server stopped")
			}
		}()
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/audio", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Int("active_sessions", registry.Len()).Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// buildPublishers connects every configured sink. A sink that fails to
// start is logged and skipped; results still reach the client.
func buildPublishers(cfg *config.Config, logger zerolog.Logger) (publish.Publisher, map[string]observability.HealthCheckFunc) {
	var pubs []publish.Publisher
	checks := make(map[string]observability.HealthCheckFunc)

	if cfg.MQTTBroker != "" {
		p, err := publish.NewMQTTPublisher(publish.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Str("broker", cfg.MQTTBroker).Msg("MQTT sink disabled")
		} else {
			pubs = append(pubs, p)
			checks["mqtt"] = p.Check
			logger.Info().Str("broker", cfg.MQTTBroker).Str("topic", p.Topic("{session_id}")).Msg("MQTT sink enabled")
		}
	}

	if cfg.RedisURL != "" {
		p, err := publish.NewRedisPublisher(cfg.RedisURL, cfg.RedisChannel, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Redis sink disabled")
		} else {
			pubs = append(pubs, p)
			checks["redis"] = p.Check
			logger.Info().Str("channel", cfg.RedisChannel).Msg("Redis sink enabled")
		}
	}

	return publish.NewMulti(pubs...), checks
}
