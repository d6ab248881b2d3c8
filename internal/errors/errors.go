// Package errors provides structured errors for docdex with codes,
// categories, and retryability, plus bounded retry/backoff helpers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// DocdexError is the structured error type used across the indexing pipeline.
// It carries enough context for the ops log and operator diagnostics.
type DocdexError struct {
	// Code is the unique error code (e.g., "ERR_301_EXTRACT_TRANSIENT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the subsystem the error belongs to.
	Category Category

	// Severity decides whether the error is recorded, fails the op, or aborts the run.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates the operation may succeed on retry.
	Retryable bool
}

// Error implements the error interface.
func (e *DocdexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocdexError) Unwrap() error {
	return e.Cause
}

// Is matches DocdexErrors by code so errors.Is works across wrapping.
func (e *DocdexError) Is(target error) bool {
	if t, ok := target.(*DocdexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for chaining.
func (e *DocdexError) WithDetail(key, value string) *DocdexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a DocdexError with the given code and message.
// Category, severity, and retryability are derived from the code.
func New(code string, message string, cause error) *DocdexError {
	return &DocdexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocdexError from an existing error, keeping its message.
// Returns nil if err is nil.
func Wrap(code string, err error) *DocdexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error (fatal to the affected operation).
func ConfigError(message string, cause error) *DocdexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// TransientExtract creates a retryable extraction error (locked file,
// collaborator temporarily unavailable).
func TransientExtract(message string, cause error) *DocdexError {
	return New(ErrCodeExtractTransient, message, cause)
}

// PermanentExtract creates a non-retryable extraction error (unsupported
// format, corrupt file).
func PermanentExtract(message string, cause error) *DocdexError {
	return New(ErrCodeExtractPermanent, message, cause)
}

// IsRetryable reports whether err (or anything in its chain) is a retryable
// DocdexError. Plain errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var de *DocdexError
	if stderrors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsFatal reports whether err carries fatal severity (lease conflict,
// catalog integrity). Fatal errors propagate to process exit.
func IsFatal(err error) bool {
	var de *DocdexError
	if stderrors.As(err, &de) {
		return de.Severity == SeverityFatal
	}
	return false
}

// CodeOf returns the error code of err, or ErrCodeInternal for plain errors.
func CodeOf(err error) string {
	var de *DocdexError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternal
}
