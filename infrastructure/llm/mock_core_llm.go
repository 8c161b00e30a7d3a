package llm

import (
	"context"
	"sync"
	"time"
)

// MockCoreLLM provides a configurable mock implementation of CoreLLM for testing.
// It allows precise control over response behavior, timing, and error conditions
// to facilitate comprehensive middleware testing.
type MockCoreLLM struct {
	mu sync.Mutex

	// Response configuration
	Response      string
	Error         error
	Model         string
	ResponseDelay time.Duration

	// Responses, when non-empty, is consumed one entry per call before
	// falling back to Response. Entries with a non-nil error fail the call.
	Responses []MockReply

	// FailUntilAttempt fails the first N attempts, then succeeds.
	FailUntilAttempt int

	// Tracking
	CallCount      int
	LastRequest    Request
	Requests       []Request
	CallTimestamps []time.Time
}

// MockReply is one scripted response for MockCoreLLM.
type MockReply struct {
	Response string
	Err      error
}

// NewMockCoreLLM creates a new mock CoreLLM with default successful behavior.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response: "test response",
		Model:    "test-model",
	}
}

// DoRequest implements the CoreLLM interface with configurable behavior.
func (m *MockCoreLLM) DoRequest(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastRequest = req
	m.Requests = append(m.Requests, req)
	m.CallTimestamps = append(m.CallTimestamps, time.Now())

	if m.ResponseDelay > 0 {
		select {
		case <-time.After(m.ResponseDelay):
			// Normal delay completion
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if len(m.Responses) > 0 && m.CallCount <= len(m.Responses) {
		reply := m.Responses[m.CallCount-1]
		return reply.Response, reply.Err
	}

	if m.FailUntilAttempt > 0 {
		if m.CallCount <= m.FailUntilAttempt {
			if m.Error != nil {
				return "", m.Error
			}
			return "", &testError{message: "simulated failure"}
		}
		return m.Response, nil
	}

	if m.Error != nil {
		return "", m.Error
	}

	return m.Response, nil
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// testError provides a simple error type for testing.
type testError struct {
	message string
}

func (e *testError) Error() string {
	return e.message
}
