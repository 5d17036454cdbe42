package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("model returned no text")

// score decodes a JSON number, a numeric string or null.
type score float64

func (s *score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*s = 0
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("score %q is not numeric", str)
		}
		*s = score(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = score(v)
	return nil
}

// modelOutput is the JSON object the prompt asks the model to return.
type modelOutput struct {
	Transcript       string `json:"transcript"`
	OverallSentiment score  `json:"overall_sentiment"`
	ContemptLevel    score  `json:"contempt_level"`
	HostilityLevel   score  `json:"hostility_level"`
	Positivity       score  `json:"positivity"`
}

// StripFence removes a surrounding markdown code fence. The opening line
// (with any language tag) is dropped and the text is cut at the last
// closing fence.
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return strings.TrimSpace(strings.Trim(text, "`"))
	}
	text = text[nl+1:]
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

// ParseResponse decodes the model text into a clamped ContentResult.
// Missing fields default to zero values.
func ParseResponse(text string) (analysis.ContentResult, error) {
	body := StripFence(text)
	if body == "" {
		return analysis.NeutralContent(), ErrEmptyResponse
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return analysis.NeutralContent(), fmt.Errorf("decode model output: %w", err)
	}

	return analysis.ContentResult{
		Transcript:       strings.TrimSpace(out.Transcript),
		OverallSentiment: float64(out.OverallSentiment),
		ContemptLevel:    float64(out.ContemptLevel),
		HostilityLevel:   float64(out.HostilityLevel),
		Positivity:       float64(out.Positivity),
	}.Clamp(), nil
}
