package analysis

import (
	"errors"
	"fmt"
	"time"
)

// Analyzer names used in errors, logs and metric labels.
const (
	AnalyzerProsody = "prosody"
	AnalyzerContent = "content"
)

// ErrMissingCredentials marks a setup failure caused by an absent API key.
var ErrMissingCredentials = errors.New("missing analyzer credentials")

// AnalysisError reports a failed provider call or an unusable response.
type AnalysisError struct {
	Analyzer string
	Op       string
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s analysis: %s: %v", e.Analyzer, e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// NewAnalysisError wraps err for analyzer/op. A nil err yields nil.
func NewAnalysisError(analyzer, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AnalysisError{Analyzer: analyzer, Op: op, Err: err}
}

// TimeoutError reports that a provider job did not reach a terminal state
// within its polling budget.
type TimeoutError struct {
	Analyzer string
	JobID    string
	Budget   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s analysis: job %s timed out after %s", e.Analyzer, e.JobID, e.Budget)
}

// IsTimeout reports whether err carries a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsRecoverable reports whether err is one of the per-chunk failures that
// are absorbed by falling back to a neutral value.
func IsRecoverable(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae) || IsTimeout(err)
}

// FailureReason classifies err for metric labels.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}
