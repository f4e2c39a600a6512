package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxCascade is the default number of change steps one input may produce.
const DefaultMaxCascade = 1000

// QuotaEnforcer counts change-propagation steps for a single input event
// and enforces the cascade budget.
//
// Dependency cycles are rejected when a form definition is compiled, so a
// well-formed document always settles. The quota catches what static
// analysis cannot: option sets that keep flipping a selection back and forth
// through reference data.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(input string) error {
	q.current++
	if q.current > q.maxSteps {
		return &CascadeExceededError{
			Input: input,
			Steps: q.current,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// CascadeExceededError is returned when one input exceeds the cascade budget.
// The remaining propagation for that input is dropped; the document stays usable.
type CascadeExceededError struct {
	Input string // event type and path that started the cascade
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *CascadeExceededError) Error() string {
	return fmt.Sprintf("%s: input %s exceeded cascade quota: %d steps > %d limit",
		ErrCodeCascadeExceeded, e.Input, e.Steps, e.Limit)
}

// IsCascadeExceededError returns true if the error is a CascadeExceededError.
func IsCascadeExceededError(err error) bool {
	var ce *CascadeExceededError
	return errors.As(err, &ce)
}
