package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricPrefix = "sentiment_gateway_"

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: metricPrefix + "active_sessions",
		Help: "Number of open audio sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "sessions_total",
		Help: "Total number of sessions that started streaming",
	})

	setupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "session_setup_failures_total",
		Help: "Sessions closed before streaming because setup failed",
	}, []string{"reason"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    metricPrefix + "session_duration_seconds",
		Help:    "Duration of streaming sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Chunk metrics
	chunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "chunks_processed_total",
		Help: "Audio chunks analyzed and answered",
	})

	chunksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "chunks_dropped_total",
		Help: "Audio chunks rejected before analysis",
	}, []string{"reason"})

	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "audio_bytes_total",
		Help: "Total audio bytes received",
	})

	chunksDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "chunks_degraded_total",
		Help: "Results fused with at least one analyzer on its neutral default",
	})

	chunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    metricPrefix + "chunk_latency_seconds",
		Help:    "Time from chunk receipt to fused result",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	// Analyzer metrics
	analyzerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "analyzer_requests_total",
		Help: "Analyzer calls by outcome",
	}, []string{"analyzer", "status"})

	analyzerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricPrefix + "analyzer_latency_seconds",
		Help:    "Analyzer call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"analyzer"})

	analyzerFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "analyzer_fallbacks_total",
		Help: "Analyzer results replaced by the neutral default",
	}, []string{"analyzer", "reason"})

	// Result metrics
	contemptFlags = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "contempt_flags_total",
		Help: "Results emitted with the contempt flag raised",
	})

	finalScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    metricPrefix + "final_score",
		Help:    "Distribution of smoothed sentiment scores",
		Buckets: prometheus.LinearBuckets(-1, 0.25, 9),
	})

	publishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "publish_errors_total",
		Help: "Failed result deliveries to downstream sinks",
	}, []string{"sink"})

	// Circuit breaker metrics
	openBreakers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricPrefix + "circuit_breakers_open",
		Help: "Session circuit breakers currently open or half-open",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single session
type SessionMetrics struct {
	sessionID string
	startTime time.Time

	mu      sync.Mutex
	summary SessionSummary
}

// SessionSummary is the per-session tally logged when a session closes.
type SessionSummary struct {
	Chunks    int
	Degraded  int
	Fallbacks int
	Flags     int
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSetupFailure counts a session that never reached streaming.
func RecordSetupFailure(reason string) {
	setupFailures.WithLabelValues(reason).Inc()
}

// RecordSessionStart records the start of streaming
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of streaming
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordChunk records an accepted chunk of n bytes
func (m *SessionMetrics) RecordChunk(n int) {
	audioBytes.Add(float64(n))
}

// RecordChunkDropped records a chunk rejected before analysis
func (m *SessionMetrics) RecordChunkDropped(reason string) {
	chunksDropped.WithLabelValues(reason).Inc()
}

// RecordAnalyzer records one analyzer call. reason is "none" on success,
// otherwise the failure class that triggered the fallback.
func (m *SessionMetrics) RecordAnalyzer(analyzer string, latency time.Duration, reason string) {
	analyzerLatency.WithLabelValues(analyzer).Observe(latency.Seconds())

	if reason == "none" {
		analyzerRequests.WithLabelValues(analyzer, "success").Inc()
		return
	}
	analyzerRequests.WithLabelValues(analyzer, "error").Inc()
	analyzerFallbacks.WithLabelValues(analyzer, reason).Inc()

	m.mu.Lock()
	m.summary.Fallbacks++
	m.mu.Unlock()
}

// RecordDegraded records a result fused with at least one fallback
func (m *SessionMetrics) RecordDegraded() {
	chunksDegraded.Inc()

	m.mu.Lock()
	m.summary.Degraded++
	m.mu.Unlock()
}

// RecordResult records a fused result sent to the client
func (m *SessionMetrics) RecordResult(finalScore float64, contempt bool, latency time.Duration) {
	chunksProcessed.Inc()
	chunkLatency.Observe(latency.Seconds())
	finalScores.Observe(finalScore)
	if contempt {
		contemptFlags.Inc()
	}

	m.mu.Lock()
	m.summary.Chunks++
	if contempt {
		m.summary.Flags++
	}
	m.mu.Unlock()
}

// RecordPublishError records a failed delivery to a sink
func (m *SessionMetrics) RecordPublishError(sink string) {
	publishErrors.WithLabelValues(sink).Inc()
}

// Summary returns the session's tally so far
func (m *SessionMetrics) Summary() SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// Duration returns the time since the session started
func (m *SessionMetrics) Duration() time.Duration {
	return time.Since(m.startTime)
}

// BreakerOpened counts a session breaker leaving the closed state.
func BreakerOpened(service string) {
	openBreakers.WithLabelValues(service).Inc()
}

// BreakerClosed counts a session breaker that closed again or was discarded
// while open.
func BreakerClosed(service string) {
	openBreakers.WithLabelValues(service).Dec()
}
