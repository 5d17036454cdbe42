// Package fusion combines prosody and content analysis into one smoothed
// sentiment score with a contempt flag.
package fusion

import (
	"fmt"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
)

// Tone weights applied to the prosody emotions.
const (
	surpriseWeight = 0.3
	sadnessWeight  = 0.5
	fearWeight     = 0.5

	prosodyContemptWeight = 0.7
	contentContemptWeight = 0.3
)

// Options configures an Engine.
type Options struct {
	WindowSize        int
	ContemptThreshold float64
	ToneWeight        float64
	ScriptWeight      float64
}

// DefaultOptions returns the standard weighting: tone 0.6, script 0.4,
// a five entry window and a 0.5 contempt threshold.
func DefaultOptions() Options {
	return Options{
		WindowSize:        5,
		ContemptThreshold: 0.5,
		ToneWeight:        0.6,
		ScriptWeight:      0.4,
	}
}

// Validate rejects option sets that could push the score out of [-1,1].
func (o Options) Validate() error {
	if o.WindowSize < 1 {
		return fmt.Errorf("fusion: window size must be at least 1, got %d", o.WindowSize)
	}
	if o.ContemptThreshold < 0 || o.ContemptThreshold > 1 {
		return fmt.Errorf("fusion: contempt threshold must be within [0,1], got %g", o.ContemptThreshold)
	}
	if o.ToneWeight < 0 || o.ScriptWeight < 0 || o.ToneWeight+o.ScriptWeight > 1+1e-9 {
		return fmt.Errorf("fusion: weights must be non-negative and sum to at most 1, got %g+%g", o.ToneWeight, o.ScriptWeight)
	}
	return nil
}

// Engine fuses per-chunk analyzer output for a single session. It owns the
// session's smoothing window; Fuse and Reset must be called from one
// goroutine at a time.
type Engine struct {
	opts   Options
	window *Window
}

// NewEngine creates an engine with an empty window.
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{opts: opts, window: NewWindow(opts.WindowSize)}, nil
}

// Fuse combines one prosody and one content result, records the raw score in
// the window and returns the smoothed result.
func (e *Engine) Fuse(p analysis.ProsodyResult, c analysis.ContentResult, timestamp string) Result {
	tone := ToneScore(p)
	script := analysis.Clamp(c.OverallSentiment, -1, 1)
	raw := e.opts.ToneWeight*tone + e.opts.ScriptWeight*script

	e.window.Push(raw)

	contempt := CombinedContempt(p, c)

	return Result{
		FinalScore:       analysis.Clamp(e.window.Mean(), -1, 1),
		ContemptFlag:     contempt > e.opts.ContemptThreshold,
		Emotions:         p,
		Transcript:       c.Transcript,
		Timestamp:        timestamp,
		RawScore:         raw,
		CombinedContempt: contempt,
	}
}

// Reset clears the smoothing window so the next Fuse starts a fresh average.
func (e *Engine) Reset() {
	e.window.Reset()
}

// WindowLen returns how many raw scores are currently averaged.
func (e *Engine) WindowLen() int {
	return e.window.Len()
}

// ToneScore maps prosody emotions to [-1,1]: joy and part of surprise push
// up, contempt, anger, disgust and half of sadness and fear push down.
func ToneScore(p analysis.ProsodyResult) float64 {
	positive := p.Score(analysis.Joy) + surpriseWeight*p.Score(analysis.Surprise)
	negative := p.Score(analysis.Contempt) +
		p.Score(analysis.Anger) +
		p.Score(analysis.Disgust) +
		sadnessWeight*p.Score(analysis.Sadness) +
		fearWeight*p.Score(analysis.Fear)
	return analysis.Clamp(positive-negative, -1, 1)
}

// CombinedContempt blends the two independent contempt estimates.
func CombinedContempt(p analysis.ProsodyResult, c analysis.ContentResult) float64 {
	return prosodyContemptWeight*p.Score(analysis.Contempt) +
		contentContemptWeight*analysis.Clamp(c.ContemptLevel, 0, 1)
}
