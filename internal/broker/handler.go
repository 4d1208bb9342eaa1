package broker

import (
	"io"
	"net/http"

	"github.com/noah-isme/paywindow/internal/common"
)

const maxNotificationBytes = 64 << 10

// Handle serves POST /notify. The provider's return page posts the
// notification with its Origin header set by the browser.
func (b *Broker) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	delivery, err := b.Deliver(r.Context(), r.Header.Get("Origin"), body)
	if err != nil {
		b.Logger.Error().Err(err).Msg("notification_replay_check_failed")
		common.Error(w, err)
		return
	}
	switch delivery.Result {
	case ResultForeignOrigin:
		common.JSONError(w, http.StatusForbidden, "FOREIGN_ORIGIN", "origin not allowed", nil)
	case ResultMalformed:
		common.JSONError(w, http.StatusBadRequest, "INVALID_NOTIFICATION", "notification must be a JSON object", nil)
	case ResultDuplicate:
		common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate notification", nil)
	case ResultUnrecognized:
		w.WriteHeader(http.StatusNoContent)
	default:
		common.JSON(w, http.StatusAccepted, delivery)
	}
}
