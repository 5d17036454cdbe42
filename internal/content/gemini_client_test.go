package content

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
	"github.com/lexiqai/sentiment-gateway/internal/audio"
	"github.com/lexiqai/sentiment-gateway/internal/resilience"
)

func replyWith(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]string{"text": text}}},
		}},
	})
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, breaker *resilience.CircuitBreaker) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGeminiClient(Options{
		APIKey:  "gemini-test-key",
		BaseURL: srv.URL,
		Model:   "gemini-test",
		Timeout: 2 * time.Second,
		Breaker: breaker,
	})
	require.NoError(t, err)
	return c
}

func TestAnalyze_SendsAudioInline(t *testing.T) {
	var got generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "gemini-test-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = io.WriteString(w, replyWith(`{"transcript":"fine","overall_sentiment":0.5,"contempt_level":0.1,"hostility_level":0,"positivity":0.6}`))
	}, nil)

	res, err := c.Analyze(context.Background(), audio.Chunk{Data: []byte{1, 2, 3}, Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Transcript)
	assert.Equal(t, 0.5, res.OverallSentiment)
	assert.Equal(t, 0.6, res.Positivity)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	inline := got.Contents[0].Parts[0].InlineData
	require.NotNil(t, inline)
	assert.Equal(t, "audio/webm", inline.MIMEType)
	assert.Equal(t, []byte{1, 2, 3}, inline.Data)
	assert.Contains(t, got.Contents[0].Parts[1].Text, "contempt_level")
	assert.Equal(t, 0.1, got.GenerationConfig.Temperature)
	assert.Equal(t, 500, got.GenerationConfig.MaxOutputTokens)
}

func TestAnalyze_JoinsTextParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"`+"```json\\n"+`{\"overall_sentiment\": -0.2,"},{"text":" \"transcript\": \"meh\"}\n`+"```"+`"}]}}]}`)
	}, nil)

	res, err := c.Analyze(context.Background(), audio.Chunk{Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, -0.2, res.OverallSentiment)
	assert.Equal(t, "meh", res.Transcript)
}

func TestAnalyze_FailuresReturnNeutral(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantOp  string
		wantMsg string
	}{
		{"http error", http.StatusBadRequest, `{"error":{"message":"bad audio"}}`, "generate", "bad audio"},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, "generate", "no text"},
		{"not json", http.StatusOK, replyWith("Sorry, I cannot help with that."), "parse", "decode model output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, nil)

			res, err := c.Analyze(context.Background(), audio.Chunk{Data: []byte{1}})
			assert.Equal(t, analysis.NeutralContent(), res)

			var ae *analysis.AnalysisError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, analysis.AnalyzerContent, ae.Analyzer)
			assert.Equal(t, tt.wantOp, ae.Op)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestAnalyze_OpenBreaker(t *testing.T) {
	var calls atomic.Int32
	breaker := resilience.NewCircuitBreaker("gemini", 1, time.Hour)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, breaker)

	_, err := c.Analyze(context.Background(), audio.Chunk{Data: []byte{1}})
	require.Error(t, err)

	res, err := c.Analyze(context.Background(), audio.Chunk{Data: []byte{1}})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, analysis.NeutralContent(), res)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewGeminiClient_MissingKey(t *testing.T) {
	_, err := NewGeminiClient(Options{})
	assert.ErrorIs(t, err, analysis.ErrMissingCredentials)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}
