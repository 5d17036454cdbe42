package session

import (
	"errors"
	"fmt"
)

// State is a session's lifecycle position.
type State int

const (
	StateConnected State = iota // socket accepted, not yet streaming
	StateStreaming              // chunks are being analyzed
	StateClosed                 // terminal
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid session state transition")

// canTransition allows Connected→Streaming, Connected→Closed and
// Streaming→Closed.
func canTransition(from, to State) bool {
	switch from {
	case StateConnected:
		return to == StateStreaming || to == StateClosed
	case StateStreaming:
		return to == StateClosed
	}
	return false
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}
