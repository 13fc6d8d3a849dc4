// Package wkerrors defines the worker's structured error taxonomy: a typed
// code/family, an optional cause, an optional user hint, and a Retryable
// classification, instead of opaque fmt.Errorf chains.
package wkerrors

import "fmt"

// Family buckets errors by the subsystem that raised them.
type Family string

const (
	FamilyConfiguration  Family = "configuration"
	FamilyIO             Family = "io"
	FamilyConnection     Family = "connection"
	FamilyProtocol       Family = "protocol"
	FamilyAuthentication Family = "authentication"
	FamilyExecution      Family = "execution"
	FamilyTimeout        Family = "timeout"
	FamilyResource       Family = "resource"
	FamilyModel          Family = "model"
	FamilyInternal       Family = "internal"
)

// ExitCode returns the process exit code for a Family.
func (f Family) ExitCode() int {
	switch f {
	case FamilyConfiguration:
		return 10
	case FamilyIO:
		return 20
	case FamilyConnection:
		return 30
	case FamilyProtocol:
		return 40
	case FamilyExecution, FamilyTimeout:
		return 50
	case FamilyModel:
		return 60
	case FamilyResource:
		return 70
	case FamilyInternal:
		return 90
	default:
		return 1
	}
}

// Code is a short machine-readable identifier, e.g. "E501" for a task timeout.
type Code string

const (
	CodeTimeout           Code = "E501"
	CodeCapacityExhausted Code = "E701"
	CodeNotSupported      Code = "E601"
	CodeModelLoadFailed   Code = "E602"
	CodeBackendFailure    Code = "E502"
	CodeProtocolVersion   Code = "E401"
	CodeFrameTooLarge     Code = "E402"
	CodeAuthFailed        Code = "E301"
	CodeConnection        Code = "E302"
	CodeConfig            Code = "E101"
	CodeIO                Code = "E201"
	CodeInternal          Code = "E901"
)

// WorkerError is the structured error type returned across the worker's
// components. It implements `error` and carries enough detail to both log
// and render as a TaskResult.Error or a fatal CLI exit.
type WorkerError struct {
	Code      Code
	Family    Family
	Message   string
	Hint      string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

func (e *WorkerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WorkerError) Unwrap() error { return e.Cause }

// New constructs a WorkerError.
func New(code Code, family Family, message string) *WorkerError {
	return &WorkerError{Code: code, Family: family, Message: message}
}

// Wrap constructs a WorkerError that chains an underlying cause.
func Wrap(code Code, family Family, message string, cause error) *WorkerError {
	return &WorkerError{Code: code, Family: family, Message: message, Cause: cause}
}

// WithHint attaches a user-facing suggestion and returns the same error for chaining.
func (e *WorkerError) WithHint(hint string) *WorkerError {
	e.Hint = hint
	return e
}

// WithRetryable marks whether the underlying condition should be retried.
func (e *WorkerError) WithRetryable(retryable bool) *WorkerError {
	e.Retryable = retryable
	return e
}

// WithDetails attaches structured, result-visible context.
func (e *WorkerError) WithDetails(details map[string]interface{}) *WorkerError {
	e.Details = details
	return e
}

// Timeout builds the canonical E501 task-timeout error.
func Timeout(taskID string) *WorkerError {
	return New(CodeTimeout, FamilyTimeout, fmt.Sprintf("task %s exceeded its timeout", taskID)).WithRetryable(true)
}

// CapacityExhausted builds the Tracker admission-rejection error.
func CapacityExhausted() *WorkerError {
	return New(CodeCapacityExhausted, FamilyResource, "concurrency capacity exhausted").WithRetryable(true)
}

// NotSupported builds the Executor's "no backend for this task kind" error.
func NotSupported(kind string) *WorkerError {
	return New(CodeNotSupported, FamilyModel, fmt.Sprintf("no backend supports task kind %q", kind))
}

// AsWorkerError extracts a *WorkerError from err, classifying a generic error
// as an internal, non-retryable failure if it isn't one already.
func AsWorkerError(err error) *WorkerError {
	if err == nil {
		return nil
	}
	if we, ok := err.(*WorkerError); ok {
		return we
	}
	return Wrap(CodeInternal, FamilyInternal, "unclassified error", err)
}
