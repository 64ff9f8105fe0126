// Package apperr defines the error taxonomy shared by the storage, settings,
// chat, and HTTP layers. Handlers map a Kind to an HTTP status; only
// Validation, Upload, and Auth messages are shown to callers verbatim.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for reporting.
type Kind int

const (
	Internal Kind = iota
	Validation
	Upload
	Auth
	Provider
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation_error"
	case Upload:
		return "upload_error"
	case Auth:
		return "authentication_error"
	case Provider:
		return "provider_error"
	case NotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// Error carries a Kind, a caller-facing message, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Public reports whether the message may be returned to the client.
func (e *Error) Public() bool {
	switch e.Kind {
	case Validation, Upload, Auth, NotFound:
		return true
	}
	return false
}

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error { return newf(Validation, format, args...) }
func Uploadf(format string, args ...any) *Error     { return newf(Upload, format, args...) }
func Authf(format string, args ...any) *Error       { return newf(Auth, format, args...) }
func NotFoundf(format string, args ...any) *Error   { return newf(NotFound, format, args...) }

// ProviderFailure wraps an upstream failure. The message is logged, never returned.
func ProviderFailure(err error, format string, args ...any) *Error {
	e := newf(Provider, format, args...)
	e.Err = err
	return e
}

// KindOf returns the Kind of err, or Internal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err has kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
