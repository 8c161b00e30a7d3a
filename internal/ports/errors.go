// Package ports defines the collaborator contracts the engine depends on:
// the repository, the image generation and fetch providers, and the three
// comparison signal providers. Implementations live under infrastructure;
// the orchestrator and pipeline depend only on these interfaces.
package ports

import (
	"errors"
	"fmt"
	"time"
)

// Common provider errors that can occur during external service
// interactions.
var (
	// ErrRateLimited indicates that the service has rate limited the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that the external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that an upstream call timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse indicates that the service returned a malformed
	// response, such as unparseable JSON after the retry budget is spent.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrAuthenticationFailed indicates that authentication with the
	// service failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSignalUnavailable indicates a comparison signal could not be
	// produced at all, either because no API key is configured or because
	// the provider failed past its retry budget. Callers treat this as
	// degraded, not fatal.
	ErrSignalUnavailable = errors.New("signal unavailable")
)

// ProviderError represents an error from an external model provider.
// It includes the provider and operation that failed, plus any rate limit
// information the provider returned.
type ProviderError struct {
	// Provider is the name of the provider that generated the error.
	Provider string

	// Operation is the name of the operation that failed.
	Operation string

	// Err is the underlying error that occurred.
	Err error

	// RetryAfter indicates how long to wait before retrying, if applicable.
	RetryAfter *time.Duration
}

// Error implements the error interface for ProviderError.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider error: provider=%s, operation=%s, err=%v", e.Provider, e.Operation, e.Err)
	if e.RetryAfter != nil {
		msg += fmt.Sprintf(", retry_after=%v", *e.RetryAfter)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried.
func (e *ProviderError) IsRetryable() bool {
	// Only network/service-level errors are retryable; logic errors are not
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrServiceUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewProviderError creates a new ProviderError with the given details.
func NewProviderError(provider, operation string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		Err:       err,
	}
}
