package errors

import stderr "errors"

// Re-exports of the standard library helpers so callers can use this
// package as a drop-in for "errors".

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderr.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderr.As(err, target) }

// Join wraps the given errors into a single error.
func Join(errs ...error) error { return stderr.Join(errs...) }

// NewPlain returns a plain sentinel error with the given text.
func NewPlain(text string) error { return stderr.New(text) }
