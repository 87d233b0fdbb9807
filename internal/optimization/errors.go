package optimization

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers classify failures with
// errors.Is against these values.
var (
	// ErrInvalidDimension marks a parameter vector whose length does not
	// match the domain dimensionality. Fatal to the call, never retried.
	ErrInvalidDimension = errors.New("parameter vector dimension mismatch")

	// ErrNonFiniteTarget marks a NaN or infinite target value. The store is
	// left unmodified.
	ErrNonFiniteTarget = errors.New("target value is not finite")

	// ErrEvaluationFailed marks an objective evaluation that signalled
	// failure. Recovered locally: no store mutation, a skip event fires and
	// the loop continues.
	ErrEvaluationFailed = errors.New("objective evaluation failed")

	// ErrDegenerateFit marks a surrogate fit that failed even after the
	// jittered retry. Proceeding would poison every later suggestion, so
	// this aborts the call.
	ErrDegenerateFit = errors.New("degenerate surrogate fit")
)

// Error carries optimization failure context that can be wrapped with the
// operation and component where it occurred.
type Error struct {
	// Message describes the failure.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	case e.Component != "":
		prefix = e.Component
	case e.Op != "":
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error with the given message.
func NewError(message string) *Error {
	return &Error{Message: message}
}

// NewErrorf creates a new optimization error with a formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}

// IsOptimizationError checks if an error is of type Error anywhere in its
// chain. If so, it returns the error and true.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
