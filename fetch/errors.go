package fetch

import (
	"errors"
)

// Error types for classifying knowledge service failures.

// FatalError represents a permanent failure that a retry cannot fix, such
// as a rejected URL or a missing provider.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsFatal returns true if the error is fatal and the attempt sequence
// should stop without the retry.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
