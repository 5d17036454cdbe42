// Package publish fans fused results out to live downstream channels.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/sentiment-gateway/internal/fusion"
)

// Publisher delivers one session's results to a downstream sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, sessionID string, r fusion.Result) error
	Close() error
}

// SinkError reports a failed delivery to a named sink.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// envelope is the message body written to sinks that share one channel
// across sessions.
type envelope struct {
	SessionID string        `json:"session_id"`
	Result    fusion.Result `json:"result"`
}

// Multi publishes to every sink in order. A failing sink does not stop the
// others; their errors are joined.
type Multi []Publisher

// NewMulti returns the publishers combined, or Nop when there are none.
func NewMulti(pubs ...Publisher) Publisher {
	var live Multi
	for _, p := range pubs {
		if p != nil {
			live = append(live, p)
		}
	}
	switch len(live) {
	case 0:
		return Nop{}
	case 1:
		return live[0]
	}
	return live
}

func (m Multi) Name() string {
	return "multi"
}

func (m Multi) Publish(ctx context.Context, sessionID string, r fusion.Result) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, sessionID, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, &SinkError{Sink: p.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Nop discards every result.
type Nop struct{}

func (Nop) Name() string { return "nop" }

func (Nop) Publish(context.Context, string, fusion.Result) error { return nil }

func (Nop) Close() error { return nil }

// FailedSinks lists the sink names found in err, which may be a single
// SinkError or several joined together.
func FailedSinks(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var names []string
		for _, e := range joined.Unwrap() {
			names = append(names, FailedSinks(e)...)
		}
		return names
	}
	var se *SinkError
	if errors.As(err, &se) {
		return []string{se.Sink}
	}
	return []string{"unknown"}
}
