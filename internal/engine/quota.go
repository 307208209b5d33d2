package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxAttempts is the number of times a transaction is run before a
// persistent conflict is reported.
const DefaultMaxAttempts = 3

// attemptQuota tracks how many times one routine invocation has run its
// transaction. Each call to the engine gets a fresh quota.
type attemptQuota struct {
	maxAttempts int
	current     int
}

func newAttemptQuota(maxAttempts int) *attemptQuota {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &attemptQuota{maxAttempts: maxAttempts}
}

// Check increments the attempt counter and validates against the limit.
// lastErr is the conflict that caused the retry.
func (q *attemptQuota) Check(routine string, lastErr error) error {
	q.current++
	if q.current > q.maxAttempts {
		return &AttemptsExhaustedError{
			Routine:  routine,
			Attempts: q.current - 1,
			Limit:    q.maxAttempts,
			Err:      lastErr,
		}
	}
	return nil
}

// AttemptsExhaustedError is returned when a routine conflicted on every
// attempt it was allowed.
type AttemptsExhaustedError struct {
	Routine  string
	Attempts int
	Limit    int
	Err      error // Last conflict
}

// Error implements the error interface.
func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("%s %s: conflicted on %d of %d attempts: %v",
		ErrCodeAttemptsExhausted, e.Routine, e.Attempts, e.Limit, e.Err)
}

// Unwrap returns the last conflict.
func (e *AttemptsExhaustedError) Unwrap() error {
	return e.Err
}

// Is matches ErrAttemptsExhausted.
func (e *AttemptsExhaustedError) Is(target error) bool {
	return target == ErrAttemptsExhausted
}

// IsAttemptsExhausted returns true if the error is an AttemptsExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsAttemptsExhausted(err error) bool {
	var ae *AttemptsExhaustedError
	return errors.As(err, &ae)
}
