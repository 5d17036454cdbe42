package prosody

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
	"github.com/lexiqai/sentiment-gateway/internal/audio"
	"github.com/lexiqai/sentiment-gateway/internal/resilience"
)

const testKey = "hume-test-key"

// fakeHume serves the three batch endpoints used by HumeClient.
type fakeHume struct {
	t           *testing.T
	jobID       string // defaults to "job-1"
	status      string
	predictions string
	submitFails int32
	statusDelay time.Duration

	submits atomic.Int32
	polls   atomic.Int32
	form    atomic.Value // map[string]string
}

func (f *fakeHume) id() string {
	if f.jobID == "" {
		return "job-1"
	}
	return f.jobID
}

func (f *fakeHume) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Hume-Api-Key") != testKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobPath := "/v0/batch/jobs/" + url.PathEscape(f.id())

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v0/batch/jobs":
		n := f.submits.Add(1)
		if n <= f.submitFails {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		if !assert.NoError(f.t, r.ParseMultipartForm(1<<20)) {
			return
		}
		file, hdr, err := r.FormFile("file")
		if !assert.NoError(f.t, err) {
			return
		}
		data, _ := io.ReadAll(file)
		f.form.Store(map[string]string{
			"json":     r.FormValue("json"),
			"filename": hdr.Filename,
			"data":     string(data),
		})
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": f.id()})

	case r.Method == http.MethodGet && r.URL.EscapedPath() == jobPath:
		f.polls.Add(1)
		if f.statusDelay > 0 {
			select {
			case <-time.After(f.statusDelay):
			case <-r.Context().Done():
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"job_id": f.id(),
			"state":  map[string]string{"status": f.status, "message": "bad audio"},
		})

	case r.Method == http.MethodGet && r.URL.EscapedPath() == jobPath+"/predictions":
		_, _ = io.WriteString(w, f.predictions)

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, baseURL string) *HumeClient {
	t.Helper()
	c, err := NewHumeClient(Options{
		APIKey:       testKey,
		BaseURL:      baseURL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      60 * time.Millisecond,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	})
	require.NoError(t, err)
	return c
}

func testChunk() audio.Chunk {
	return audio.Chunk{Data: []byte("webm-bytes"), MIMEType: "audio/webm", Seq: 3}
}

const twoSegments = `[{"results":{"predictions":[{"models":{"prosody":{"grouped_predictions":[
	{"id":"unknown","predictions":[
		{"text":"a","emotions":[{"name":"Contempt","score":0.8},{"name":"Joy","score":0.2},{"name":"Boredom","score":0.9}]},
		{"text":"b","emotions":[{"name":"Contempt","score":0.4},{"name":"Surprise (positive)","score":0.6}]}
	]}
]}}}]}}]`

func TestAnalyze_AveragesSegments(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusCompleted, predictions: twoSegments}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Analyze(context.Background(), testChunk())
	require.NoError(t, err)

	assert.InDelta(t, 0.6, got.Score(analysis.Contempt), 1e-9)
	assert.InDelta(t, 0.1, got.Score(analysis.Joy), 1e-9)
	assert.InDelta(t, 0.3, got.Score(analysis.Surprise), 1e-9)
	assert.Equal(t, 0.0, got.Score(analysis.Anger))

	form := fake.form.Load().(map[string]string)
	assert.JSONEq(t, `{"models":{"prosody":{}}}`, form["json"])
	assert.Equal(t, "chunk-3.webm", form["filename"])
	assert.Equal(t, "webm-bytes", form["data"])
}

func TestAnalyze_NoSegmentsYieldsZero(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusCompleted, predictions: `[{"results":{"predictions":[]}}]`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Analyze(context.Background(), testChunk())
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestAnalyze_FailedJob(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusFailed}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Analyze(context.Background(), testChunk())
	require.Error(t, err)

	var ae *analysis.AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "job", ae.Op)
	assert.Contains(t, err.Error(), "bad audio")
	assert.False(t, analysis.IsTimeout(err))
}

func TestAnalyze_PollingBudgetExhausted(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusInProgress}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Analyze(context.Background(), testChunk())
	require.Error(t, err)
	assert.True(t, analysis.IsTimeout(err))
	assert.True(t, analysis.IsRecoverable(err))
	assert.GreaterOrEqual(t, fake.polls.Load(), int32(2))
}

func TestAnalyze_SlowStatusRequestCountsAgainstBudget(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusInProgress, statusDelay: 3 * time.Second}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	start := time.Now()
	_, err := newTestClient(t, srv.URL).Analyze(context.Background(), testChunk())
	elapsed := time.Since(start)

	require.Error(t, err)
	var te *analysis.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "job-1", te.JobID)
	assert.Equal(t, "timeout", analysis.FailureReason(err))
	assert.Less(t, elapsed, time.Second)
}

func TestAnalyze_CallerCancelIsNotATimeout(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusInProgress, statusDelay: 3 * time.Second}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.timeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Analyze(ctx, testChunk())
	require.Error(t, err)
	assert.False(t, analysis.IsTimeout(err))
}

func TestAnalyze_EscapesJobID(t *testing.T) {
	fake := &fakeHume{t: t, jobID: "job/1 a", status: StatusCompleted, predictions: twoSegments}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Analyze(context.Background(), testChunk())
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Score(analysis.Contempt), 1e-9)
	assert.Equal(t, int32(1), fake.polls.Load())
}

func TestAnalyze_RetriesTransientSubmitFailure(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusCompleted, predictions: twoSegments, submitFails: 1}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Analyze(context.Background(), testChunk())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.submits.Load())
}

func TestAnalyze_RejectedKeyIsNotRetried(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusCompleted}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.apiKey = "wrong"

	_, err := c.Analyze(context.Background(), testChunk())
	var ae *analysis.AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "submit", ae.Op)
	assert.True(t, strings.Contains(err.Error(), "401"))
	assert.Equal(t, int32(0), fake.submits.Load())
}

func TestAnalyze_OpenBreakerShortCircuits(t *testing.T) {
	fake := &fakeHume{t: t, status: StatusFailed}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.breaker = resilience.NewCircuitBreaker("hume", 1, time.Hour)

	_, err := c.Analyze(context.Background(), testChunk())
	require.Error(t, err)

	_, err = c.Analyze(context.Background(), testChunk())
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.True(t, analysis.IsRecoverable(err))
	assert.Equal(t, int32(1), fake.submits.Load())
}

func TestNewHumeClient_MissingKey(t *testing.T) {
	_, err := NewHumeClient(Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, analysis.ErrMissingCredentials)
	assert.Contains(t, err.Error(), "HUME_API_KEY")
}

func TestAggregate_SkipsEmptySources(t *testing.T) {
	var sources []SourcePrediction
	require.NoError(t, json.Unmarshal([]byte(`[{"results":null},{"results":{"predictions":[{"models":{}}]}}]`), &sources))
	assert.True(t, Aggregate(sources).IsZero())
	assert.True(t, Aggregate(nil).IsZero())
}

func TestChunkFilename(t *testing.T) {
	assert.Equal(t, "chunk-0.mp3", chunkFilename(audio.Chunk{MIMEType: "audio/mpeg"}))
	assert.Equal(t, "chunk-1.bin", chunkFilename(audio.Chunk{Seq: 1}))
	assert.Equal(t, "chunk-2.bin", chunkFilename(audio.Chunk{Seq: 2, MIMEType: "audio/"}))
}
