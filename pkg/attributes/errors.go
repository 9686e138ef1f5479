package attributes

import (
	"errors"
	"fmt"
)

// ErrorKind classifies attribute and rendering errors.
type ErrorKind string

const (
	// KindMissingRequiredDefault means a required identity setting had no
	// value and defaulting was disabled.
	KindMissingRequiredDefault ErrorKind = "missing_required_default"

	// KindTypeMismatch means a key held a value of the wrong kind for its consumer.
	KindTypeMismatch ErrorKind = "type_mismatch"

	// KindMalformedHandlerSpec means a handler entry had no class name.
	KindMalformedHandlerSpec ErrorKind = "malformed_handler_spec"

	// KindLoad means an attribute source could not be read or decoded.
	KindLoad ErrorKind = "load"
)

// Sentinels for errors.Is checks against an Error's kind.
var (
	ErrMissingRequiredDefault = &Error{Kind: KindMissingRequiredDefault}
	ErrTypeMismatch           = &Error{Kind: KindTypeMismatch}
	ErrMalformedHandlerSpec   = &Error{Kind: KindMalformedHandlerSpec}
	ErrLoad                   = &Error{Kind: KindLoad}
)

// Error is a classified attribute error with the offending key path.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Path is the dotted attribute path, if known.
	Path string `json:"path,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Path, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewTypeMismatch reports that path held got where want was expected.
func NewTypeMismatch(path string, want, got Kind) *Error {
	return &Error{
		Kind:    KindTypeMismatch,
		Path:    path,
		Message: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// NewMalformedHandlerSpec reports a handler entry at path that cannot be used.
func NewMalformedHandlerSpec(path string, err error) *Error {
	return &Error{
		Kind:    KindMalformedHandlerSpec,
		Path:    path,
		Message: "handler requires a class name",
		Err:     err,
	}
}

// NewMissingRequiredDefault reports that a required setting at path is unset.
func NewMissingRequiredDefault(path string) *Error {
	return &Error{
		Kind:    KindMissingRequiredDefault,
		Path:    path,
		Message: "no value and defaulting is disabled",
	}
}

// NewLoadError wraps a failure to read or decode source.
func NewLoadError(source string, err error) *Error {
	return &Error{
		Kind:    KindLoad,
		Path:    source,
		Message: "failed to load attributes",
		Err:     err,
	}
}

// KindOf returns the ErrorKind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
