package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitMiddleware_AllowsBurst(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(1, 3)(mock)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"burst capacity should admit requests without waiting")
}

func TestRateLimitMiddleware_FailsOnCanceledContext(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(1, 1)(mock)

	// Drain the bucket so the next request must wait.
	_, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err = wrapped.DoRequest(ctx, Request{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 1, mock.GetCallCount(), "the limited request must not reach the provider")
}
