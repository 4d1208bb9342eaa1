package apperr_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paywindow/internal/apperr"
)

func TestKind(t *testing.T) {
	cases := map[error]string{
		nil:                      "",
		apperr.ErrPopupBlocked:   "popup_blocked",
		apperr.ErrRemoteTimeout:  "remote_timeout",
		apperr.ErrUserClosed:     "user_closed",
		apperr.ErrRemoteReported: "remote_error",
		apperr.ErrUserCancelled:  "user_cancelled",
		context.Canceled:         "canceled",
		errors.New("boom"):       "internal",
	}
	for err, want := range cases {
		require.Equal(t, want, apperr.Kind(err))
	}
}

func TestErrorWrapsSentinel(t *testing.T) {
	err := apperr.New(apperr.ErrRemoteReported, "card declined", map[string]any{"error": "card declined"})
	wrapped := fmt.Errorf("session abc: %w", err)

	require.ErrorIs(t, wrapped, apperr.ErrRemoteReported)
	var target *apperr.Error
	require.ErrorAs(t, wrapped, &target)
	require.Equal(t, "remote_error", target.Code)
	require.Equal(t, "card declined", target.Details["error"])
	require.Equal(t, "card declined", err.Error())
	require.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusOK, apperr.HTTPStatus(nil))
	require.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(apperr.ErrValidation))
	require.Equal(t, http.StatusGatewayTimeout, apperr.HTTPStatus(apperr.ErrRemoteTimeout))
	require.Equal(t, http.StatusGone, apperr.HTTPStatus(apperr.ErrUserClosed))
	require.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(errors.New("x")))
}
