package converge

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a converge failure.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure that may succeed on the next run,
	// such as a dropped SSH session or a busy package manager.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a failure that will repeat until the
	// input or the host changes, such as permission denied.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodeRender       = "RENDER_FAILED"
	ErrCodeFilesystem   = "FILESYSTEM"
	ErrCodeCommand      = "COMMAND_FAILED"
	ErrCodeReload       = "RELOAD_FAILED"
	ErrCodeCycle        = "DEPENDENCY_CYCLE"
	ErrCodeDependency   = "DEPENDENCY_FAILED"
	ErrCodeInvalidGraph = "INVALID_GRAPH"
)

// Error is a classified converge error with resource context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the failing concern.
	Code string `json:"code,omitempty"`

	// Resource is the resource ID that failed, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the action being performed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	cause := ""
	if e.Err != nil {
		cause = ": " + e.Err.Error()
	}
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)%s", e.Class, e.Message, e.Resource, e.Operation, cause)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)%s", e.Class, e.Message, e.Resource, cause)
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, cause)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithResource adds resource context.
func (e *Error) WithResource(resourceID string) *Error {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// CodeOf returns the code of a converge error, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
