// Package content transcribes an audio chunk and scores what was said using
// a multimodal Gemini model.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
	"github.com/lexiqai/sentiment-gateway/internal/audio"
	"github.com/lexiqai/sentiment-gateway/internal/resilience"
)

const (
	defaultBaseURL  = "https://generativelanguage.googleapis.com"
	defaultModel    = "gemini-2.0-flash"
	defaultTimeout  = 30 * time.Second
	defaultMIMEType = "audio/webm"
	maxErrorBody    = 512

	temperature     = 0.1
	maxOutputTokens = 500
)

// analysisPrompt asks for the transcript and four scores as bare JSON.
const analysisPrompt = `Listen to this audio clip and return:

1. transcript: the words that were spoken
2. overall_sentiment: how positive the speech is, from -1 (very negative) to 1 (very positive)
3. contempt_level: how much contempt or disdain is expressed, from 0 (none) to 1 (extreme)
4. hostility_level: how hostile or aggressive the speech is, from 0 to 1
5. positivity: how much genuine warmth or positivity is expressed, from 0 to 1

Reply with a single JSON object and nothing else, using exactly these keys:
{
  "transcript": "...",
  "overall_sentiment": 0.0,
  "contempt_level": 0.0,
  "hostility_level": 0.0,
  "positivity": 0.0
}`

// Options configures a GeminiClient.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MIMEType   string // used when the chunk carries none
	HTTPClient *http.Client
	Breaker    *resilience.CircuitBreaker
	Logger     *zerolog.Logger
}

// GeminiClient sends audio inline to generateContent and parses the scores
// out of the model's reply.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	mimeType   string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"` // base64 via encoding/json
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type requestContent struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// NewGeminiClient creates a client. An empty API key is a setup error.
func NewGeminiClient(opts Options) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required: %w", analysis.ErrMissingCredentials)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MIMEType == "" {
		opts.MIMEType = defaultMIMEType
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &GeminiClient{
		apiKey:     opts.APIKey,
		endpoint:   fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(opts.BaseURL, "/"), opts.Model),
		mimeType:   opts.MIMEType,
		httpClient: opts.HTTPClient,
		breaker:    opts.Breaker,
		logger:     logger.With().Str("analyzer", analysis.AnalyzerContent).Logger(),
	}, nil
}

// Analyze transcribes and scores one chunk. On any failure it returns the
// neutral result together with an *analysis.AnalysisError, so the first
// return value is always safe to use.
func (c *GeminiClient) Analyze(ctx context.Context, chunk audio.Chunk) (analysis.ContentResult, error) {
	var text string
	call := func() error {
		var err error
		text, err = c.generate(ctx, chunk)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(call)
	} else {
		err = call()
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return analysis.NeutralContent(), analysis.NewAnalysisError(analysis.AnalyzerContent, "breaker", err)
	}
	if err != nil {
		return analysis.NeutralContent(), analysis.NewAnalysisError(analysis.AnalyzerContent, "generate", err)
	}

	result, err := ParseResponse(text)
	if err != nil {
		return analysis.NeutralContent(), analysis.NewAnalysisError(analysis.AnalyzerContent, "parse", err)
	}

	c.logger.Debug().
		Int("chunk_seq", chunk.Seq).
		Float64("overall_sentiment", result.OverallSentiment).
		Float64("contempt_level", result.ContemptLevel).
		Msg("Content analyzed")
	return result, nil
}

// generate performs the HTTP call and returns the concatenated text parts
// of the first candidate.
func (c *GeminiClient) generate(ctx context.Context, chunk audio.Chunk) (string, error) {
	mime := chunk.MIMEType
	if mime == "" {
		mime = c.mimeType
	}

	payload, err := json.Marshal(generateRequest{
		Contents: []requestContent{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MIMEType: mime, Data: chunk.Data}},
				{Text: analysisPrompt},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxOutputTokens,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return "", fmt.Errorf("status error, got status %d with response body %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var gen generateResponse
	if err := json.NewDecoder(res.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(gen.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range gen.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
