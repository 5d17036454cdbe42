package prosody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/sentiment-gateway/internal/analysis"
	"github.com/lexiqai/sentiment-gateway/internal/audio"
	"github.com/lexiqai/sentiment-gateway/internal/resilience"
)

const (
	defaultBaseURL      = "https://api.hume.ai"
	defaultPollInterval = time.Second
	defaultTimeout      = 30 * time.Second
	maxErrorBody        = 512
)

// Options configures a HumeClient.
type Options struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration // polling budget per job
	HTTPClient   *http.Client
	Breaker      *resilience.CircuitBreaker
	Retry        *resilience.RetryConfig
	Logger       *zerolog.Logger // nil disables logging
}

// HumeClient submits audio chunks to the Hume batch API and waits for the
// prosody model's predictions.
type HumeClient struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
	breaker      *resilience.CircuitBreaker
	retry        *resilience.RetryConfig
	logger       zerolog.Logger
}

// NewHumeClient creates a client. An empty API key is a setup error.
func NewHumeClient(opts Options) (*HumeClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("HUME_API_KEY environment variable is required: %w", analysis.ErrMissingCredentials)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &HumeClient{
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		httpClient:   opts.HTTPClient,
		breaker:      opts.Breaker,
		retry:        opts.Retry,
		logger:       logger.With().Str("analyzer", analysis.AnalyzerProsody).Logger(),
	}, nil
}

// Analyze runs one chunk through the prosody model. Failures are returned
// as *analysis.AnalysisError, an exhausted polling budget as
// *analysis.TimeoutError.
func (c *HumeClient) Analyze(ctx context.Context, chunk audio.Chunk) (analysis.ProsodyResult, error) {
	var result analysis.ProsodyResult

	run := func() error {
		jobID, err := c.submit(ctx, chunk)
		if err != nil {
			return err
		}
		if err := c.waitForJob(ctx, jobID); err != nil {
			return err
		}
		sources, err := c.predictions(ctx, jobID)
		if err != nil {
			return err
		}
		result = Aggregate(sources)
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(run)
	} else {
		err = run()
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return analysis.ProsodyResult{}, analysis.NewAnalysisError(analysis.AnalyzerProsody, "breaker", err)
	}
	if err != nil {
		return analysis.ProsodyResult{}, err
	}
	return result, nil
}

// submit starts an inference job for the chunk and returns its id
func (c *HumeClient) submit(ctx context.Context, chunk audio.Chunk) (string, error) {
	body, contentType, err := buildJobForm(chunk)
	if err != nil {
		return "", analysis.NewAnalysisError(analysis.AnalyzerProsody, "submit", err)
	}

	var created jobCreated
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v0/batch/jobs", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		return c.do(req, &created)
	}, c.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return "", analysis.NewAnalysisError(analysis.AnalyzerProsody, "submit", err)
	}
	if created.JobID == "" {
		return "", analysis.NewAnalysisError(analysis.AnalyzerProsody, "submit", errors.New("response carried no job_id"))
	}

	c.logger.Debug().
		Str("job_id", created.JobID).
		Int("chunk_seq", chunk.Seq).
		Int("bytes", chunk.Len()).
		Msg("Prosody job submitted")
	return created.JobID, nil
}

// waitForJob polls the job status every pollInterval until it is terminal.
// The timeout budget covers the status requests as well as the waits between
// them; running out of it is a *analysis.TimeoutError.
func (c *HumeClient) waitForJob(ctx context.Context, jobID string) error {
	pollCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, message, err := c.jobStatus(pollCtx, jobID)
		if err != nil {
			if c.budgetSpent(ctx, pollCtx) {
				return c.timeoutError(jobID)
			}
			return analysis.NewAnalysisError(analysis.AnalyzerProsody, "status", err)
		}

		switch status {
		case StatusCompleted:
			return nil
		case StatusFailed:
			return analysis.NewAnalysisError(analysis.AnalyzerProsody, "job", fmt.Errorf("job %s failed: %s", jobID, message))
		}

		select {
		case <-pollCtx.Done():
			if c.budgetSpent(ctx, pollCtx) {
				return c.timeoutError(jobID)
			}
			return analysis.NewAnalysisError(analysis.AnalyzerProsody, "poll", ctx.Err())
		case <-ticker.C:
		}
	}
}

// budgetSpent reports whether pollCtx ended on its own deadline rather than
// through the caller's ctx.
func (c *HumeClient) budgetSpent(ctx, pollCtx context.Context) bool {
	return ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded)
}

func (c *HumeClient) timeoutError(jobID string) error {
	return &analysis.TimeoutError{Analyzer: analysis.AnalyzerProsody, JobID: jobID, Budget: c.timeout}
}

func (c *HumeClient) jobStatus(ctx context.Context, jobID string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(jobID), nil)
	if err != nil {
		return "", "", err
	}

	var details jobDetails
	if err := c.do(req, &details); err != nil {
		return "", "", err
	}
	return details.State.Status, details.State.Message, nil
}

func (c *HumeClient) predictions(ctx context.Context, jobID string) ([]SourcePrediction, error) {
	var sources []SourcePrediction
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(jobID)+"/predictions", nil)
		if err != nil {
			return err
		}
		return c.do(req, &sources)
	}, c.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return nil, analysis.NewAnalysisError(analysis.AnalyzerProsody, "predictions", err)
	}
	return sources, nil
}

func (c *HumeClient) jobURL(jobID string) string {
	return c.baseURL + "/v0/batch/jobs/" + url.PathEscape(jobID)
}

// do sends req with the API key and decodes a 2xx JSON body into out.
// 429 and 5xx responses are marked retryable.
func (c *HumeClient) do(req *http.Request, out any) error {
	req.Header.Set("X-Hume-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := fmt.Errorf("hume %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return resilience.NewRetryableError(statusErr)
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hume decode: %w", err)
	}
	return nil
}

// buildJobForm encodes the multipart job request: the model selection as
// the "json" field and the audio bytes as "file".
func buildJobForm(chunk audio.Chunk) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	cfg, err := json.Marshal(jobRequest{})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("json", string(cfg)); err != nil {
		return nil, "", err
	}

	mime := chunk.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, chunkFilename(chunk)))
	h.Set("Content-Type", mime)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func chunkFilename(chunk audio.Chunk) string {
	ext := "bin"
	if i := strings.IndexByte(chunk.MIMEType, '/'); i >= 0 && i < len(chunk.MIMEType)-1 {
		ext = chunk.MIMEType[i+1:]
		if ext == "mpeg" {
			ext = "mp3"
		}
	}
	return fmt.Sprintf("chunk-%d.%s", chunk.Seq, ext)
}
