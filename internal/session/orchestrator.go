// Package session runs one client's audio stream: every chunk is sent to
// both analyzers at once and the fused result is written back in order.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
	"github.com/lexiqai/sentiment-gateway/internal/audio"
	"github.com/lexiqai/sentiment-gateway/internal/fusion"
	"github.com/lexiqai/sentiment-gateway/internal/observability"
	"github.com/lexiqai/sentiment-gateway/internal/publish"
	"github.com/lexiqai/sentiment-gateway/internal/resilience"
)

const (
	timestampLayout = "15:04:05"
	publishTimeout  = 5 * time.Second
)

// ProsodyAnalyzer scores vocal tone.
type ProsodyAnalyzer interface {
	Analyze(ctx context.Context, chunk audio.Chunk) (analysis.ProsodyResult, error)
}

// ContentAnalyzer transcribes and scores what was said.
type ContentAnalyzer interface {
	Analyze(ctx context.Context, chunk audio.Chunk) (analysis.ContentResult, error)
}

// Conn is the client side of a session.
type Conn interface {
	ReadChunk() ([]byte, error)
	WriteResult(r fusion.Result) error
	WriteError(msg string) error
	Close() error
}

// Deps are the per-session collaborators of an Orchestrator.
type Deps struct {
	ID            string
	Prosody       ProsodyAnalyzer
	Content       ContentAnalyzer
	Engine        *fusion.Engine
	Publisher     publish.Publisher
	MaxChunkBytes int
	DefaultMIME   string
	Breakers      []*resilience.CircuitBreaker // released when the session closes
	Metrics       *observability.SessionMetrics
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Orchestrator owns one session. Process and Run must not be called
// concurrently; the fusion window depends on chunk order.
type Orchestrator struct {
	id            string
	prosody       ProsodyAnalyzer
	content       ContentAnalyzer
	engine        *fusion.Engine
	publisher     publish.Publisher
	maxChunkBytes int
	defaultMIME   string
	breakers      []*resilience.CircuitBreaker
	metrics       *observability.SessionMetrics
	logger        zerolog.Logger
	now           func() time.Time

	mu    sync.Mutex
	state State
	seq   int
}

// NewOrchestrator creates a session in the Connected state.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Publisher == nil {
		d.Publisher = publish.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewSessionMetrics(d.ID)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{
		id:            d.ID,
		prosody:       d.Prosody,
		content:       d.Content,
		engine:        d.Engine,
		publisher:     d.Publisher,
		maxChunkBytes: d.MaxChunkBytes,
		defaultMIME:   d.DefaultMIME,
		breakers:      d.Breakers,
		metrics:       d.Metrics,
		logger:        d.Logger,
		now:           d.Now,
		state:         StateConnected,
	}
}

// ID returns the session id
func (o *Orchestrator) ID() string {
	return o.id
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !canTransition(o.state, to) {
		return transitionError(o.state, to)
	}
	o.logger.Debug().Str("from", o.state.String()).Str("to", to.String()).Msg("Session state changed")
	o.state = to
	return nil
}

// Close moves the session to Closed. Closing twice is a no-op.
func (o *Orchestrator) Close() {
	_ = o.transition(StateClosed)
}

// Process analyzes one chunk with both analyzers concurrently and fuses the
// outcome. A failing analyzer contributes its neutral default, so Process
// always yields a result.
func (o *Orchestrator) Process(ctx context.Context, chunk audio.Chunk) fusion.Result {
	var (
		prosody analysis.ProsodyResult
		content analysis.ContentResult
		g       errgroup.Group
	)

	g.Go(func() error {
		var err error
		prosody, err = o.analyzeProsody(ctx, chunk)
		return err
	})
	g.Go(func() error {
		var err error
		content, err = o.analyzeContent(ctx, chunk)
		return err
	})
	if err := g.Wait(); err != nil {
		o.metrics.RecordDegraded()
	}

	return o.engine.Fuse(prosody, content, o.now().Format(timestampLayout))
}

// analyzeProsody returns the zero result alongside any error
func (o *Orchestrator) analyzeProsody(ctx context.Context, chunk audio.Chunk) (analysis.ProsodyResult, error) {
	start := time.Now()
	result, err := o.prosody.Analyze(ctx, chunk)
	o.recordAnalyzer(analysis.AnalyzerProsody, chunk, start, err)
	if err != nil {
		return analysis.ProsodyResult{}, err
	}
	return result, nil
}

// analyzeContent returns the neutral result alongside any error
func (o *Orchestrator) analyzeContent(ctx context.Context, chunk audio.Chunk) (analysis.ContentResult, error) {
	start := time.Now()
	result, err := o.content.Analyze(ctx, chunk)
	o.recordAnalyzer(analysis.AnalyzerContent, chunk, start, err)
	if err != nil {
		return analysis.NeutralContent(), err
	}
	return result, nil
}

func (o *Orchestrator) recordAnalyzer(analyzer string, chunk audio.Chunk, start time.Time, err error) {
	latency := time.Since(start)
	reason := analysis.FailureReason(err)
	o.metrics.RecordAnalyzer(analyzer, latency, reason)
	if err == nil {
		return
	}

	o.logger.Warn().
		Err(err).
		Str("analyzer", analyzer).
		Str("reason", reason).
		Int("chunk_seq", chunk.Seq).
		Dur("latency", latency).
		Msg("Analyzer failed, using neutral default")
}

// Run streams chunks from conn until the client goes away or ctx is done.
// Read failures end the session silently and are not returned; the only
// error is an illegal state transition.
func (o *Orchestrator) Run(ctx context.Context, conn Conn) error {
	if err := o.transition(StateStreaming); err != nil {
		return err
	}
	o.metrics.RecordSessionStart()
	o.logger.Info().Msg("Session streaming")

	defer func() {
		o.Close()
		o.metrics.RecordSessionEnd()
		o.releaseBreakers()
		summary := o.metrics.Summary()
		o.logger.Info().
			Int("chunks", summary.Chunks).
			Int("degraded", summary.Degraded).
			Int("fallbacks", summary.Fallbacks).
			Int("contempt_flags", summary.Flags).
			Dur("duration", o.metrics.Duration()).
			Msg("Session closed")
	}()

	// In-flight analysis is not cancelled by a disconnect; its result is
	// simply not delivered.
	analysisCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		data, err := conn.ReadChunk()
		if err != nil {
			o.logger.Debug().Err(&TransportError{Op: "read", Err: err}).Msg("Client stream ended")
			return nil
		}

		o.seq++
		chunk := audio.NewChunk(data, o.seq, o.defaultMIME)
		if err := chunk.Validate(o.maxChunkBytes); err != nil {
			o.metrics.RecordChunkDropped(dropReason(err))
			o.logger.Warn().Err(err).Int("chunk_seq", chunk.Seq).Int("bytes", chunk.Len()).Msg("Dropping chunk")
			continue
		}
		o.metrics.RecordChunk(chunk.Len())

		start := time.Now()
		result := o.Process(analysisCtx, chunk)
		o.metrics.RecordResult(result.FinalScore, result.ContemptFlag, time.Since(start))

		o.logger.Debug().
			Int("chunk_seq", chunk.Seq).
			Float64("final_score", result.FinalScore).
			Bool("contempt_flag", result.ContemptFlag).
			Msg("Chunk processed")

		if err := conn.WriteResult(result); err != nil {
			o.logger.Debug().Err(&TransportError{Op: "write", Err: err}).Msg("Client stream ended")
			return nil
		}

		o.publish(analysisCtx, result)
	}
}

// releaseBreakers logs each breaker's totals and removes any still open
// from the open-breaker gauge.
func (o *Orchestrator) releaseBreakers() {
	for _, cb := range o.breakers {
		state, requests, failures, rate := cb.GetStats()
		if state != resilience.StateClosed {
			observability.BreakerClosed(cb.Name())
		}
		o.logger.Info().
			Str("service", cb.Name()).
			Str("state", state.String()).
			Int64("requests", requests).
			Int64("failures", failures).
			Float64("failure_rate", rate).
			Msg("Circuit breaker summary")
	}
}

func (o *Orchestrator) publish(ctx context.Context, result fusion.Result) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := o.publisher.Publish(ctx, o.id, result); err != nil {
		for _, sink := range publish.FailedSinks(err) {
			o.metrics.RecordPublishError(sink)
		}
		o.logger.Warn().Err(err).Msg("Failed to publish result")
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrEmptyChunk):
		return "empty"
	case errors.Is(err, audio.ErrChunkTooLarge):
		return "too_large"
	}
	return "invalid"
}
