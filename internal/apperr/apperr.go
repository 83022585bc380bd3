// Package apperr defines the error kinds surfaced by the layout engine.
//
// Only NotFound and DataAccess ever reach a caller. CacheUnavailable and
// UnrecognizedInput are logged and degrade to a safe default at the point
// they occur; ProcessingFailure is recorded on the event log entry.
package apperr

import "errors"

// Kind classifies an Error.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindDataAccess        Kind = "data_access"
	KindCacheUnavailable  Kind = "cache_unavailable"
	KindUnrecognizedInput Kind = "unrecognized_input"
	KindProcessingFailure Kind = "processing_failure"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NotFound is shorthand for New(KindNotFound, message).
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// DataAccess is shorthand for Wrap(KindDataAccess, message, cause).
func DataAccess(message string, cause error) *Error {
	return Wrap(KindDataAccess, message, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err carries KindNotFound.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsDataAccess reports whether err carries KindDataAccess.
func IsDataAccess(err error) bool {
	return KindOf(err) == KindDataAccess
}
