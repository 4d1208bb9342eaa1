package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/noah-isme/paywindow/internal/events"
	"github.com/noah-isme/paywindow/internal/session"
)

// Notification types posted by the provider's return page.
const (
	TypePaymentSuccess = "PAYMENT_SUCCESS"
	TypePaymentError   = "PAYMENT_ERROR"
	TypePaymentCancel  = "PAYMENT_CANCEL"
)

// Notification is the wire body `{"type": ..., "data": {...}}`.
type Notification struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Reference returns data.reference when present.
func (n Notification) Reference() string {
	return stringField(n.Data, "reference")
}

// ErrorMessage returns data.error when present.
func (n Notification) ErrorMessage() string {
	return stringField(n.Data, "error")
}

type route struct {
	kind  session.Kind
	topic string
}

var routes = map[string]route{
	TypePaymentSuccess: {kind: session.KindCompleted, topic: events.TopicSuccess},
	TypePaymentError:   {kind: session.KindRemoteError, topic: events.TopicError},
	TypePaymentCancel:  {kind: session.KindUserCancelled, topic: events.TopicCancel},
}

// decodeNotification parses body. A missing or non-object data field is
// treated as empty.
func decodeNotification(body []byte) (Notification, error) {
	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Notification{}, fmt.Errorf("broker: decode notification: %w", err)
	}
	n := Notification{Type: strings.TrimSpace(raw.Type), Data: map[string]any{}}
	if len(raw.Data) == 0 {
		return n, nil
	}
	dataDec := json.NewDecoder(bytes.NewReader(raw.Data))
	dataDec.UseNumber()
	var data map[string]any
	if err := dataDec.Decode(&data); err == nil && data != nil {
		n.Data = data
	}
	return n, nil
}

func (n Notification) outcome(kind session.Kind) session.Outcome {
	out := session.Outcome{Kind: kind, Detail: maps.Clone(n.Data)}
	if kind == session.KindCompleted {
		out.Reference = n.Reference()
	}
	return out
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
