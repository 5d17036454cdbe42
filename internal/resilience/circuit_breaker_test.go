package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBreaker returns a breaker whose clock is advanced by the returned func.
func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, func(time.Duration)) {
	cb := NewCircuitBreaker("test", maxFailures, reset)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, func(d time.Duration) { now = now.Add(d) }
}

func stateOf(cb *CircuitBreaker) CircuitState {
	state, _, _, _ := cb.GetStats()
	return state
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	assert.Equal(t, StateClosed, stateOf(cb))
	assert.True(t, cb.allowRequest(), "closed breaker should allow requests")
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	assert.Equal(t, StateClosed, stateOf(cb), "two failures should not open the breaker")

	cb.RecordResult(false)
	assert.Equal(t, StateOpen, stateOf(cb))
	assert.False(t, cb.allowRequest(), "open breaker should reject requests")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)

	assert.Equal(t, StateClosed, stateOf(cb))
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb, advance := newTestBreaker(1, 100*time.Millisecond)

	cb.RecordResult(false)
	advance(150 * time.Millisecond)

	allowed := 0
	for i := 0; i < 5; i++ {
		if cb.allowRequest() {
			allowed++
		}
	}

	assert.Equal(t, StateHalfOpen, stateOf(cb))
	assert.Equal(t, 3, allowed)
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	cb, advance := newTestBreaker(3, 100*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(false)
	advance(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Call(func() error { return nil }), "request %d in half-open", i)
	}

	assert.Equal(t, StateClosed, stateOf(cb))
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb, advance := newTestBreaker(3, 100*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(false)
	advance(150 * time.Millisecond)

	_ = cb.Call(func() error { return errors.New("still down") })

	assert.Equal(t, StateOpen, stateOf(cb))
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)
	cb.RecordResult(false)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "fn should not run while open")
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, advance := newTestBreaker(1, 10*time.Millisecond)

	var transitions []string
	cb.OnStateChange(func(name string, from, to CircuitState) {
		assert.Equal(t, "test", name)
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.RecordResult(false)
	advance(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Call(func() error { return nil }))
	}

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()

	assert.Equal(t, StateClosed, state)
	assert.Equal(t, int64(3), requestCount)
	assert.Equal(t, int64(1), failureCount)
	assert.InDelta(t, 33.33, failureRate, 0.01)
}
