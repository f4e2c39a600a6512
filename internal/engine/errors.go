package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while the engine applies an event.
//
// None of these halt the document. Fetch failures degrade the field to a
// placeholder-only list; rejected inputs leave state unchanged. Both are
// logged and reported to the Observer.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Path identifies the affected field, group or row.
	Path string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeFetchFailed indicates a reference-data request failed or timed out.
	ErrCodeFetchFailed RuntimeErrorCode = "FETCH_FAILED"

	// ErrCodeStaleCompletion marks a superseded completion. It is logged at
	// debug level and never reported as a failure.
	ErrCodeStaleCompletion RuntimeErrorCode = "STALE_COMPLETION"

	// ErrCodeUnknownPath indicates an input named a field, group or row that does not exist.
	ErrCodeUnknownPath RuntimeErrorCode = "UNKNOWN_PATH"

	// ErrCodeCascadeExceeded indicates one input produced more change steps than allowed.
	ErrCodeCascadeExceeded RuntimeErrorCode = "CASCADE_EXCEEDED"

	// ErrCodeRowLimit indicates a structural input would violate min_rows or max_rows.
	ErrCodeRowLimit RuntimeErrorCode = "ROW_LIMIT"

	// ErrCodeInvalidState indicates an input that is not valid for the target's current state.
	ErrCodeInvalidState RuntimeErrorCode = "INVALID_STATE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsFetchError returns true if the error is a reference-data failure.
func IsFetchError(err error) bool {
	return hasCode(err, ErrCodeFetchFailed)
}

// IsUnknownPathError returns true if an input named a missing target.
func IsUnknownPathError(err error) bool {
	return hasCode(err, ErrCodeUnknownPath)
}

// IsInvalidStateError returns true if an input was rejected for the target's state.
func IsInvalidStateError(err error) bool {
	return hasCode(err, ErrCodeInvalidState)
}

// IsCascadeError returns true if the error is a cascade quota error.
// Matches both RuntimeError with ErrCodeCascadeExceeded and CascadeExceededError.
func IsCascadeError(err error) bool {
	if hasCode(err, ErrCodeCascadeExceeded) {
		return true
	}
	var ce *CascadeExceededError
	return errors.As(err, &ce)
}

// IsLimitError returns true if the error is a row limit violation.
func IsLimitError(err error) bool {
	if hasCode(err, ErrCodeRowLimit) {
		return true
	}
	var le *LimitError
	return errors.As(err, &le)
}

// NewFetchError creates a RuntimeError for a failed resolution of path.
func NewFetchError(path string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeFetchFailed,
		Message: "reference data request failed",
		Path:    path,
		Err:     err,
	}
}

// NewUnknownPathError creates a RuntimeError for a missing target.
func NewUnknownPathError(path, what string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownPath,
		Message: fmt.Sprintf("no such %s", what),
		Path:    path,
	}
}

// NewInvalidStateError creates a RuntimeError for an input the target cannot accept.
func NewInvalidStateError(path, message string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidState,
		Message: message,
		Path:    path,
	}
}

// newStaleCompletion describes a discarded completion for debug logs.
func newStaleCompletion(path string, token, latest int64) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStaleCompletion,
		Message: "completion superseded by a newer request",
		Path:    path,
		Details: map[string]string{
			"token":  fmt.Sprintf("%d", token),
			"latest": fmt.Sprintf("%d", latest),
		},
	}
}

// LimitError is returned when a structural input would take a group outside
// its declared row bounds.
type LimitError struct {
	Group string // group path
	Op    string // "add", "remove" or "delete"
	Rows  int    // live rows before the input
	Limit int
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	switch e.Op {
	case "add":
		return fmt.Sprintf("%s: group %s already has %d rows (max_rows %d)", ErrCodeRowLimit, e.Group, e.Rows, e.Limit)
	default:
		return fmt.Sprintf("%s: %s would leave group %s with fewer than %d rows", ErrCodeRowLimit, e.Op, e.Group, e.Limit)
	}
}
