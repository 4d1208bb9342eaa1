// Package common holds small HTTP and hashing helpers shared by the callback surface.
package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/paywindow/internal/apperr"
)

// ErrorBody represents a consistent error payload returned by the callback server.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// Error renders err with the status and code derived from its apperr kind.
func Error(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var details any
	var appErr *apperr.Error
	if errors.As(err, &appErr) && len(appErr.Details) > 0 {
		details = appErr.Details
	}
	JSONError(w, apperr.HTTPStatus(err), strings.ToUpper(apperr.Kind(err)), err.Error(), details)
}
