package session

import "fmt"

// SetupError means a session could not be created. Its message is sent to
// the client before the connection is closed.
type SetupError struct {
	Reason  string // metric label
	Message string
	Err     error
}

func (e *SetupError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("session setup failed: %v", e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failed read or write on the client connection.
// It ends the session without a reply.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
