package prosody

import "github.com/lexiqai/sentiment-gateway/internal/analysis"

// Job states reported by the batch API. Any other status, such as QUEUED,
// means the job is still pending.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// jobRequest is the "json" form field of a job submission
type jobRequest struct {
	Models struct {
		Prosody struct{} `json:"prosody"`
	} `json:"models"`
}

type jobCreated struct {
	JobID string `json:"job_id"`
}

type jobDetails struct {
	JobID string `json:"job_id"`
	State struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"state"`
}

// SourcePrediction is one entry of the predictions response, one per
// submitted source file.
type SourcePrediction struct {
	Results *struct {
		Predictions []FilePrediction `json:"predictions"`
	} `json:"results"`
}

// FilePrediction holds the model outputs for one file.
type FilePrediction struct {
	Models struct {
		Prosody *ModelPrediction `json:"prosody"`
	} `json:"models"`
}

// ModelPrediction groups segment predictions (by speaker or id).
type ModelPrediction struct {
	GroupedPredictions []GroupedPrediction `json:"grouped_predictions"`
}

// GroupedPrediction is a run of segments for one group.
type GroupedPrediction struct {
	ID          string              `json:"id"`
	Predictions []SegmentPrediction `json:"predictions"`
}

// SegmentPrediction carries emotion scores for one speech segment.
type SegmentPrediction struct {
	Text     string         `json:"text,omitempty"`
	Emotions []EmotionScore `json:"emotions"`
}

// EmotionScore is one provider label with its score.
type EmotionScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Aggregate averages every canonical emotion over all segments of all files
// and groups. Each segment counts once regardless of its duration; a label
// missing from a segment contributes 0. No segments yields the zero result.
func Aggregate(sources []SourcePrediction) analysis.ProsodyResult {
	sums := make(map[analysis.Emotion]float64, len(providerLabels))
	count := 0

	for _, src := range sources {
		if src.Results == nil {
			continue
		}
		for _, file := range src.Results.Predictions {
			if file.Models.Prosody == nil {
				continue
			}
			for _, group := range file.Models.Prosody.GroupedPredictions {
				for _, seg := range group.Predictions {
					count++
					for _, emo := range seg.Emotions {
						if e, ok := CanonicalEmotion(emo.Name); ok {
							sums[e] += emo.Score
						}
					}
				}
			}
		}
	}

	if count == 0 {
		return analysis.ProsodyResult{}
	}
	for e := range sums {
		sums[e] /= float64(count)
	}
	return analysis.NewProsodyResult(sums)
}
