package fusion

import (
	"encoding/json"
	"math"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
)

// Result is the output of one Fuse call. RawScore and CombinedContempt are
// kept for diagnostics and are not part of the wire format.
type Result struct {
	FinalScore       float64
	ContemptFlag     bool
	Emotions         analysis.ProsodyResult
	Transcript       string
	Timestamp        string
	RawScore         float64
	CombinedContempt float64
}

type wireEmotions struct {
	Contempt float64 `json:"contempt"`
	Anger    float64 `json:"anger"`
	Joy      float64 `json:"joy"`
	Sadness  float64 `json:"sadness"`
	Disgust  float64 `json:"disgust"`
	Surprise float64 `json:"surprise"`
	Fear     float64 `json:"fear"`
}

type wireResult struct {
	FinalScore   float64      `json:"final_score"`
	ContemptFlag bool         `json:"contempt_flag"`
	Emotions     wireEmotions `json:"emotions"`
	Transcript   string       `json:"transcript"`
	Timestamp    string       `json:"timestamp"`
}

// MarshalJSON encodes the client-facing record with scores rounded to three
// decimals and emotions in canonical order.
func (r Result) MarshalJSON() ([]byte, error) {
	e := r.Emotions
	return json.Marshal(wireResult{
		FinalScore:   round3(r.FinalScore),
		ContemptFlag: r.ContemptFlag,
		Emotions: wireEmotions{
			Contempt: round3(e.Score(analysis.Contempt)),
			Anger:    round3(e.Score(analysis.Anger)),
			Joy:      round3(e.Score(analysis.Joy)),
			Sadness:  round3(e.Score(analysis.Sadness)),
			Disgust:  round3(e.Score(analysis.Disgust)),
			Surprise: round3(e.Score(analysis.Surprise)),
			Fear:     round3(e.Score(analysis.Fear)),
		},
		Transcript: r.Transcript,
		Timestamp:  r.Timestamp,
	})
}

func round3(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}
