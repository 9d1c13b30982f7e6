package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the caller.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency"
)

// Error is returned by every service in the module. Code is "<operation>.<reason>".
// Message is safe to show to a caller; Err never is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error

	// Status overrides the default HTTP status for the kind when non-zero.
	Status int
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, operation, reason, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    fmt.Sprintf("%s.%s", operation, reason),
		Message: message,
		Err:     cause,
	}
}

// Validation reports missing or malformed input.
func Validation(operation, reason, message string) *Error {
	return newError(KindValidation, operation, reason, message, nil)
}

// NotFound reports that a referenced record is absent.
func NotFound(operation, reason, message string) *Error {
	return newError(KindNotFound, operation, reason, message, nil)
}

// Conflict reports a violated state precondition.
func Conflict(operation, reason, message string) *Error {
	return newError(KindConflict, operation, reason, message, nil)
}

// Dependency wraps a store, signer or transport failure.
func Dependency(operation, reason string, cause error) *Error {
	return newError(KindDependency, operation, reason, "Server error", cause)
}

// WithStatus returns the error with an explicit HTTP status override.
func (e *Error) WithStatus(status int) *Error {
	copied := *e
	copied.Status = status
	return &copied
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind of err; unknown errors are dependency failures.
func KindOf(err error) Kind {
	if target, ok := As(err); ok {
		return target.Kind
	}
	return KindDependency
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
