package common

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the HTTP boundary. Every kind maps to a
// fixed HTTP status and business code.
type Kind string

const (
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindRateLimit    Kind = "rate_limit"
	KindOffline      Kind = "offline"
)

type Error struct {
	Kind Kind
	// Surface names the feature the error belongs to ("chat", "content",
	// "api", ...). Shown to clients as kind:surface.
	Surface string
	Message string
}

func (e *Error) Error() string {
	if e.Surface != "" {
		return string(e.Kind) + ":" + e.Surface + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

func E(kind Kind, surface, message string) *Error {
	return &Error{Kind: kind, Surface: surface, Message: message}
}

// KindOf unwraps err to a *Error kind; unknown errors are downgraded to
// offline so internals never leak.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindOffline
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindOffline:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// BusinessCode returns the numeric code carried in the JSON envelope.
func (k Kind) BusinessCode() int {
	switch k {
	case KindBadRequest:
		return 40000
	case KindUnauthorized:
		return 40100
	case KindForbidden:
		return 40300
	case KindNotFound:
		return 40400
	case KindRateLimit:
		return 42900
	case KindOffline:
		return 50300
	}
	return 50000
}

// UserMessage is what clients see for an error; *Error messages are
// considered user-safe, anything else gets a generic line.
func UserMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return "something went wrong, please try again later"
}
