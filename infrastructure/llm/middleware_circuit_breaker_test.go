package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("downstream failure")

	wrapped := CircuitBreakerMiddleware(2, time.Minute)(mock)

	for i := 0; i < 2; i++ {
		_, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.ErrorIs(t, err, ErrCircuitOpen, "third request must be rejected without reaching the provider")
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestCircuitBreaker_RecoversAfterCooldown(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 2
	mock.Error = errors.New("downstream failure")
	mock.Response = "healthy again"

	wrapped := CircuitBreakerMiddleware(2, 10*time.Millisecond)(mock)

	for i := 0; i < 2; i++ {
		_, _ = wrapped.DoRequest(context.Background(), Request{User: "hi"})
	}

	time.Sleep(20 * time.Millisecond)

	resp, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.NoError(t, err, "half-open probe should pass through after cooldown")
	assert.Equal(t, "healthy again", resp)
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Call(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.GetState())

	require.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}
