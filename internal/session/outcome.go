package session

import (
	"strings"

	"github.com/noah-isme/paywindow/internal/apperr"
)

// Kind classifies how a session ended.
type Kind string

const (
	KindCompleted      Kind = "completed"
	KindClosedManually Kind = "closedManually"
	KindTimedOut       Kind = "timedOut"
	KindRemoteError    Kind = "remoteError"
	KindUserCancelled  Kind = "userCancelled"
)

// Outcome is the value delivered when a session settles.
type Outcome struct {
	Kind      Kind           `json:"kind"`
	Reference string         `json:"reference,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Succeeded reports whether the outcome resolves the caller's attempt rather than rejecting it.
// A manual close only counts when a stashed reference was recovered.
func (o Outcome) Succeeded() bool {
	switch o.Kind {
	case KindCompleted:
		return true
	case KindClosedManually:
		return strings.TrimSpace(o.Reference) != ""
	default:
		return false
	}
}

// Err returns the rejection for outcomes that do not succeed, or nil.
func (o Outcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	switch o.Kind {
	case KindClosedManually:
		return apperr.New(apperr.ErrUserClosed, "payment window closed by user, no result", o.Detail)
	case KindTimedOut:
		return apperr.New(apperr.ErrRemoteTimeout, "", o.Detail)
	case KindRemoteError:
		msg := ""
		if v, ok := o.Detail["error"].(string); ok && strings.TrimSpace(v) != "" {
			msg = "payment provider reported an error: " + v
		}
		return apperr.New(apperr.ErrRemoteReported, msg, o.Detail)
	case KindUserCancelled:
		return apperr.New(apperr.ErrUserCancelled, "", o.Detail)
	default:
		return apperr.New(apperr.ErrUserClosed, "payment session ended without outcome", o.Detail)
	}
}
