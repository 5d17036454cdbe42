// Package analysis holds the result types exchanged between the analyzers,
// the fusion engine and the session orchestrator, together with the error
// taxonomy shared by both analyzers.
package analysis

import "math"

// Emotion is one entry of the canonical prosody vocabulary.
type Emotion int

const (
	Contempt Emotion = iota
	Anger
	Joy
	Sadness
	Disgust
	Surprise
	Fear

	numEmotions
)

// Emotions lists the vocabulary in its canonical order.
var Emotions = [numEmotions]Emotion{Contempt, Anger, Joy, Sadness, Disgust, Surprise, Fear}

var emotionNames = [numEmotions]string{"contempt", "anger", "joy", "sadness", "disgust", "surprise", "fear"}

func (e Emotion) String() string {
	if e < 0 || e >= numEmotions {
		return "unknown"
	}
	return emotionNames[e]
}

// ParseEmotion maps a canonical name back to its Emotion.
func ParseEmotion(name string) (Emotion, bool) {
	for i, n := range emotionNames {
		if n == name {
			return Emotion(i), true
		}
	}
	return 0, false
}

// ProsodyResult holds one intensity in [0,1] per canonical emotion. The zero
// value is the all-zero result used as the prosody fallback.
type ProsodyResult struct {
	scores [numEmotions]float64
}

// NewProsodyResult builds a result from a partial map. Missing emotions are 0
// and every value is clamped into [0,1].
func NewProsodyResult(scores map[Emotion]float64) ProsodyResult {
	var p ProsodyResult
	for e, v := range scores {
		if e < 0 || e >= numEmotions {
			continue
		}
		p.scores[e] = Clamp(v, 0, 1)
	}
	return p
}

// Score returns the intensity of e.
func (p ProsodyResult) Score(e Emotion) float64 {
	if e < 0 || e >= numEmotions {
		return 0
	}
	return p.scores[e]
}

// Map returns the scores keyed by canonical name.
func (p ProsodyResult) Map() map[string]float64 {
	m := make(map[string]float64, numEmotions)
	for _, e := range Emotions {
		m[e.String()] = p.scores[e]
	}
	return m
}

// IsZero reports whether every intensity is zero.
func (p ProsodyResult) IsZero() bool {
	return p == ProsodyResult{}
}

// ContentResult is the normalized output of the content analyzer.
type ContentResult struct {
	Transcript       string
	OverallSentiment float64 // [-1,1]
	ContemptLevel    float64 // [0,1]
	HostilityLevel   float64 // [0,1]
	Positivity       float64 // [0,1]
}

// NeutralContent is the fallback used when content analysis fails.
func NeutralContent() ContentResult {
	return ContentResult{}
}

// Clamp forces every numeric field into its valid range.
func (c ContentResult) Clamp() ContentResult {
	c.OverallSentiment = Clamp(c.OverallSentiment, -1, 1)
	c.ContemptLevel = Clamp(c.ContemptLevel, 0, 1)
	c.HostilityLevel = Clamp(c.HostilityLevel, 0, 1)
	c.Positivity = Clamp(c.Positivity, 0, 1)
	return c
}

// Clamp limits v to [lo, hi]. NaN is treated as 0.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
