// Package apperr defines the error kinds surfaced by domain services and
// their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an error for HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindBusinessRule
	KindForbidden
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusinessRule:
		return "business_rule"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error is a classified domain error. Two errors with the same non-empty Code
// match under errors.Is, so packages can declare sentinels and return
// instances carrying a more specific message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Error returns the message, followed by the cause when there is one.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a 400 error.
func Validation(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

// NotFound creates a 404 error.
func NotFound(code, format string, args ...any) *Error {
	return newError(KindNotFound, code, format, args...)
}

// Conflict creates a 409 error.
func Conflict(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

// BusinessRule creates a 422 error.
func BusinessRule(code, format string, args ...any) *Error {
	return newError(KindBusinessRule, code, format, args...)
}

// Forbidden creates a 403 error.
func Forbidden(code, format string, args ...any) *Error {
	return newError(KindForbidden, code, format, args...)
}

// Newf returns a copy of sentinel with a formatted message.
func Newf(sentinel *Error, format string, args ...any) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a copy of sentinel that records cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBusinessRule:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload returned to API clients.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPError converts err into an *echo.HTTPError. Internal errors keep their
// detail in the Internal field so it is logged but not returned.
func HTTPError(err error) *echo.HTTPError {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		he := echo.NewHTTPError(http.StatusInternalServerError, Body{Code: "INTERNAL", Message: "internal server error"})
		return he.SetInternal(err)
	}
	return echo.NewHTTPError(HTTPStatus(err), Body{Code: e.Code, Message: e.Message})
}
