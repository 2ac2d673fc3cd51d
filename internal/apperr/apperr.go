// Package apperr classifies errors so HTTP handlers can map them to status
// codes and decide what detail is safe to show a client.
package apperr

import (
	"errors"
	"net/http"
	"regexp"
)

// Kind buckets an error by how the caller should respond to it.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindConflict
	KindDependency
)

// Error is a classified error. Msg is client-safe for 4xx kinds; Err carries
// the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func InvalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Msg: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func Unauthorized(msg string, err error) *Error {
	return &Error{Kind: KindUnauthorized, Msg: msg, Err: err}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Msg: msg}
}

func Dependency(msg string, err error) *Error {
	return &Error{Kind: KindDependency, Msg: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code a handler should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var secretLike = regexp.MustCompile(`(?i)\b(key|token|credential|password|secret)\b`)

// ClientMessage returns the error text safe to include in an HTTP response.
// 4xx messages pass through unless they look like they mention credentials;
// 5xx messages are replaced with a generic message in production.
func ClientMessage(err error, production bool) string {
	status := HTTPStatus(err)

	var e *Error
	msg := err.Error()
	if errors.As(err, &e) {
		msg = e.Msg
	}

	if status < 500 {
		return msg
	}
	if production {
		return "Internal server error"
	}
	return Sanitize(msg)
}

// Sanitize redacts credential-looking words from a message that will be
// shown to a client.
func Sanitize(msg string) string {
	return secretLike.ReplaceAllString(msg, "[redacted]")
}
