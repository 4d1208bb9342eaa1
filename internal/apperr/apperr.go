// Package apperr defines the error taxonomy surfaced by payment sessions.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrPopupBlocked is returned when the payment window could not be opened.
	ErrPopupBlocked = errors.New("payment window blocked")
	// ErrRemoteTimeout is returned when a session exceeded its deadline.
	ErrRemoteTimeout = errors.New("payment session timed out")
	// ErrUserClosed is returned when the user closed the window without a result.
	ErrUserClosed = errors.New("payment window closed by user")
	// ErrRemoteReported is returned when the provider reported a payment error.
	ErrRemoteReported = errors.New("payment provider reported an error")
	// ErrUserCancelled is returned when the user cancelled on the provider page.
	ErrUserCancelled = errors.New("payment cancelled by user")
	// ErrEngineDestroyed is returned by operations attempted after teardown.
	ErrEngineDestroyed = errors.New("payment engine destroyed")
	// ErrValidation is returned when a request to the provider API is invalid.
	ErrValidation = errors.New("validation failed")
)

// Error carries a stable code and optional detail alongside one of the sentinels.
type Error struct {
	Code    string
	Message string
	Err     error
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap allows errors.Is/As to inspect the underlying sentinel.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New wraps sentinel with a code derived from it and the supplied details.
func New(sentinel error, message string, details map[string]any) *Error {
	return &Error{Code: Kind(sentinel), Message: message, Err: sentinel, Details: details}
}

// Kind maps an error to a stable label usable in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPopupBlocked):
		return "popup_blocked"
	case errors.Is(err, ErrRemoteTimeout):
		return "remote_timeout"
	case errors.Is(err, ErrUserClosed):
		return "user_closed"
	case errors.Is(err, ErrRemoteReported):
		return "remote_error"
	case errors.Is(err, ErrUserCancelled):
		return "user_cancelled"
	case errors.Is(err, ErrEngineDestroyed):
		return "engine_destroyed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error to the status reported by the callback server.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPopupBlocked):
		return http.StatusConflict
	case errors.Is(err, ErrUserClosed), errors.Is(err, ErrUserCancelled):
		return http.StatusGone
	case errors.Is(err, ErrRemoteReported):
		return http.StatusBadGateway
	case errors.Is(err, ErrRemoteTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrEngineDestroyed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
