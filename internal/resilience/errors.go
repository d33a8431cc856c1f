// Package resilience provides the building blocks the storage layer uses to survive
// degraded dependencies: a clock-driven circuit breaker, a breaker registry, a
// retry executor with bounded exponential backoff, and a retrying HTTP client.
package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies a class of failure. Callers branch on the code, never on the message.
type Code string

// Error codes surfaced to callers.
const (
	CodeConfiguration      Code = "CONFIGURATION_ERROR"
	CodeInitialization     Code = "INITIALIZATION_ERROR"
	CodeClientNotInit      Code = "CLIENT_NOT_INITIALIZED"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeCircuitOpen        Code = "CIRCUIT_OPEN"
	CodeExecution          Code = "EXECUTION_ERROR"
	CodeUpload             Code = "UPLOAD_ERROR"
	CodeStorage            Code = "STORAGE_ERROR"
	CodeMaxRetriesExceeded Code = "MAX_RETRIES_EXCEEDED"
	CodeDatabase           Code = "DATABASE_ERROR"
)

// OperationError is the tagged failure value returned by every resilient operation.
type OperationError struct {
	Code    Code
	Message string

	// Details carries code-specific context, e.g. nextAttemptTime for CIRCUIT_OPEN.
	Details map[string]any

	// Err is the underlying cause, if any.
	Err error
}

// NewError creates an OperationError with the given code and message.
func NewError(code Code, message string) *OperationError {
	return &OperationError{Code: code, Message: message}
}

// WrapError creates an OperationError wrapping err.
func WrapError(code Code, message string, err error) *OperationError {
	return &OperationError{Code: code, Message: message, Err: err}
}

// WithDetail sets a detail entry and returns the error for chaining.
func (e *OperationError) WithDetail(key string, value any) *OperationError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of err. Errors that are not an OperationError map to
// EXECUTION_ERROR. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	return CodeExecution
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// AsOperationError returns err as an OperationError, wrapping foreign errors with
// the fallback code.
func AsOperationError(err error, fallback Code) *OperationError {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}
	msg := "operation failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "operation timed out"
	} else if errors.Is(err, context.Canceled) {
		msg = "operation cancelled"
	}
	return WrapError(fallback, msg, err)
}

// safeCall invokes fn, converting a panic into an EXECUTION_ERROR.
func safeCall[T any](ctx context.Context, fn func(context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = NewError(CodeExecution, fmt.Sprintf("operation panicked: %v", r))
		}
	}()
	return fn(ctx)
}
