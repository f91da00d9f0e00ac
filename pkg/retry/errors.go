package retry

import (
	"errors"
)

// Common errors returned by the policy.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

// Error implements the error interface.
func (e *permanentError) Error() string {
	return e.err.Error()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps err so that Execute returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
