package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrCallTimeout      = errors.New("call timed out")
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrExecutionStalled = errors.New("no runnable steps remain before completion")
	ErrClosed           = errors.New("manager is closed")
)

// ErrorKind classifies a gateway call failure so workflow steps can make
// retry decisions without string matching.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindCircuitOpen ErrorKind = "circuit_open"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindTransport   ErrorKind = "transport"
	ErrorKindUpstream    ErrorKind = "upstream"
	ErrorKindTransform   ErrorKind = "transform"
	ErrorKindInternal    ErrorKind = "internal"
)

func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindTransport, ErrorKindUpstream:
		return true
	}
	return false
}

// ValidationError rejects a workflow definition at registration time.
type ValidationError struct {
	WorkflowID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %s invalid: %s", e.WorkflowID, e.Reason)
}

func NewValidationError(workflowID, format string, args ...any) *ValidationError {
	return &ValidationError{
		WorkflowID: workflowID,
		Reason:     fmt.Sprintf(format, args...),
	}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UpstreamError carries the HTTP status of a failed outbound call.
type UpstreamError struct {
	Dependency string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned HTTP %d: %s", e.Dependency, e.StatusCode, e.Body)
}

func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// StepFailure wraps a step's final error after its retry budget is exhausted.
type StepFailure struct {
	StepID   string
	Attempts int
	Err      error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %s failed permanently after %d attempts: %v", e.StepID, e.Attempts, e.Err)
}

func (e *StepFailure) Unwrap() error {
	return e.Err
}

func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrCircuitOpen):
		return ErrorKindCircuitOpen
	case errors.Is(err, ErrCallTimeout):
		return ErrorKindTimeout
	case IsUpstreamError(err):
		return ErrorKindUpstream
	default:
		return ErrorKindTransport
	}
}
