package domain

import (
	"errors"
	"fmt"
)

// Code classifies an engine failure for boundary layers (HTTP handlers,
// run state) that need a stable machine-readable category.
type Code string

const (
	// CodeNotFound indicates a project, commit, or run does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidRequest indicates a structurally invalid request, such as
	// a variant count outside the allowed bounds.
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// CodeBaselineNotSet indicates a comparison was requested for a
	// project with no active baseline commit.
	CodeBaselineNotSet Code = "BASELINE_NOT_SET"

	// CodeUpstreamTimeout indicates an external provider call timed out.
	CodeUpstreamTimeout Code = "UPSTREAM_TIMEOUT"

	// CodeUpstreamError indicates an external provider returned a 4xx/5xx
	// or malformed response.
	CodeUpstreamError Code = "UPSTREAM_ERROR"

	// CodePipelineFailed indicates a fatal internal pipeline failure,
	// such as a pixel comparison crash.
	CodePipelineFailed Code = "PIPELINE_FAILED"

	// CodeStorageWriteFailed indicates the repository rejected a write.
	CodeStorageWriteFailed Code = "STORAGE_WRITE_FAILED"
)

// Error is the engine's structured error. It pairs a classification code
// with a human-readable message and an optional underlying cause.
type Error struct {
	// Code classifies the failure.
	Code Code

	// Message describes the failure for operators and API clients.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// E creates a new Error with the given code and message.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a new Error with the given code and message, preserving the
// underlying cause for errors.Is/As inspection.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the classification code from an error chain. Errors that
// never passed through the engine taxonomy map to CodePipelineFailed.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodePipelineFailed
}
