package prosody

import "github.com/lexiqai/sentiment-gateway/internal/analysis"

// providerLabels maps Hume prosody emotion names to the canonical
// vocabulary. Matching is exact; labels not listed here are ignored.
var providerLabels = map[string]analysis.Emotion{
	"Contempt":            analysis.Contempt,
	"Anger":               analysis.Anger,
	"Joy":                 analysis.Joy,
	"Sadness":             analysis.Sadness,
	"Disgust":             analysis.Disgust,
	"Surprise (positive)": analysis.Surprise,
	"Fear":                analysis.Fear,
}

// CanonicalEmotion returns the canonical emotion for a provider label.
func CanonicalEmotion(label string) (analysis.Emotion, bool) {
	e, ok := providerLabels[label]
	return e, ok
}
