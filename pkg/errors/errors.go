// Package errors provides structured error types for vectorprint.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across CLI, API and library callers
//   - Machine-readable error codes for programmatic handling
//   - User-friendly error messages
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow the taxonomy of the export pipeline:
//   - INVALID_*: Input validation failures (style, size request, format)
//   - NOT_FOUND: Base document missing from the catalog
//   - RENDER_FAILED: Parse, decode or encode failures while styling or rasterizing
//   - QUOTA_DENIED: No entitlement or no remaining credits
//   - TRANSACTION_ERROR: The ledger store failed; safe to retry with the same key
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidInput, "invalid dpi: %v", dpi)
//	if errors.Is(err, errors.ErrCodeInvalidInput) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeRenderFailed, origErr, "encode %s", format)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidFormat Code = "INVALID_FORMAT"
	ErrCodeInvalidSize   Code = "INVALID_SIZE"

	// Resource not found errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Pipeline errors
	ErrCodeRenderFailed Code = "RENDER_FAILED"

	// Metering errors
	ErrCodeQuotaDenied Code = "QUOTA_DENIED"
	ErrCodeTransaction Code = "TRANSACTION_ERROR"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// RetryableError marks an error as safe to retry by the caller.
// Nothing retries internally; the marker only travels to the host.
type RetryableError struct{ Err error }

// Retryable wraps an error as a RetryableError.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Error returns the error message of the wrapped error.
func (e *RetryableError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable checks if an error is wrapped with RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// QuotaDenied builds the error returned when metering refuses an export.
// The reason is one of the ledger denial reasons (no_entitlement, no_credits).
func QuotaDenied(reason string) *Error {
	return New(ErrCodeQuotaDenied, "export quota exhausted: %s", reason)
}

// Transaction wraps a ledger store failure. The result is retryable.
func Transaction(cause error, format string, args ...any) error {
	return Retryable(Wrap(ErrCodeTransaction, cause, format, args...))
}
