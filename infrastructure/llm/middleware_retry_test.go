package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryMiddleware_SucceedsAfterTransientFailures(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 2
	mock.Error = NewProviderError("openai", ErrorTypeServerError, 503, "overloaded", nil)
	mock.Response = "recovered"

	wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

	resp, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp)
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestRetryMiddleware_ExhaustsRetries(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("openai", ErrorTypeRateLimit, 429, "slow down", nil)

	wrapped := RetryMiddleware(2, time.Millisecond, 10*time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestRetryMiddleware_DoesNotRetryNonRetryable(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("openai", ErrorTypeAuthentication, 401, "bad key", nil)

	wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, mock.GetCallCount(), "authentication failures must not be retried")
}

func TestRetryMiddleware_StopsOnOpenCircuit(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = ErrCircuitOpen

	wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, mock.GetCallCount(), "an open circuit must short-circuit retries")
}

func TestRetryMiddleware_RespectsContextCancellation(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("openai", ErrorTypeServerError, 500, "boom", nil)

	wrapped := RetryMiddleware(5, 50*time.Millisecond, time.Second)(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wrapped.DoRequest(ctx, Request{User: "hi"})
	require.Error(t, err)
	assert.LessOrEqual(t, mock.GetCallCount(), 1)
}

func TestTimeoutMiddleware_CancelsSlowRequests(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 200 * time.Millisecond

	wrapped := TimeoutMiddleware(20 * time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTimeoutMiddleware_PassesFastRequests(t *testing.T) {
	mock := NewMockCoreLLM()

	wrapped := TimeoutMiddleware(time.Second)(mock)

	resp, err := wrapped.DoRequest(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "test response", resp)
}
