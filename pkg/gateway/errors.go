package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/codeck/gateway/pkg/middleware"
)

// Kind classifies a gateway failure.
type Kind string

const (
	// KindRateLimited means too many login attempts in the current window.
	KindRateLimited Kind = "rate_limited"
	// KindLockedOut means the client address tripped the failure threshold.
	KindLockedOut Kind = "locked_out"
	// KindBadRequest means the login payload was unusable.
	KindBadRequest Kind = "bad_request"
	// KindUnauthorized means the password or token was not accepted.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound means the session id does not exist.
	KindNotFound Kind = "not_found"
	// KindInternal is an unexpected failure in a collaborator.
	KindInternal Kind = "internal"
)

// HTTPStatus maps the kind to a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindRateLimited, KindLockedOut:
		return http.StatusTooManyRequests
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Gateway operation that fails.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for KindRateLimited and KindLockedOut.
	RetryAfter time.Duration
	// RateLimit is the limiter decision behind a KindRateLimited error.
	RateLimit *middleware.Decision
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds.
func (e *Error) RetryAfterSeconds() int {
	return middleware.CeilSeconds(e.RetryAfter)
}

// SetHeaders writes Retry-After for throttled errors, plus the
// X-RateLimit-* headers when a limiter decision is attached.
func (e *Error) SetHeaders(w http.ResponseWriter) {
	if e.RateLimit != nil {
		e.RateLimit.SetHeaders(w)
		return
	}
	if e.Kind == KindRateLimited || e.Kind == KindLockedOut {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfterSeconds()))
	}
}

// Public returns the message safe to show a client. Internal failures never
// expose their cause.
func (e *Error) Public() string {
	if e.Kind == KindInternal {
		return "Internal server error"
	}
	return e.Message
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindInternal
}

// asError returns err as an *Error, wrapping anything else as internal.
func asError(err error, message string) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return internalError(message, err)
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}
