// Package broker receives payment notifications posted from the provider's
// return page and routes them to the event bus and pending sessions.
package broker

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/paywindow/internal/events"
	"github.com/noah-isme/paywindow/internal/obs"
	"github.com/noah-isme/paywindow/internal/refstore"
	"github.com/noah-isme/paywindow/internal/session"
)

// Result classifies what happened to a delivered notification.
type Result string

const (
	ResultAccepted      Result = "accepted"
	ResultForeignOrigin Result = "foreign_origin"
	ResultMalformed     Result = "malformed"
	ResultUnrecognized  Result = "unrecognized"
	ResultDuplicate     Result = "duplicate"
)

// Delivery reports the effect of one notification.
type Delivery struct {
	Result    Result       `json:"result"`
	Type      string       `json:"type,omitempty"`
	Outcome   session.Kind `json:"outcome,omitempty"`
	Notified  int          `json:"notified"`
	Settled   int          `json:"settled"`
	Reference string       `json:"reference,omitempty"`
}

// Broker validates notification origins and fans recognized messages out.
// Every recognized message settles every pending session; notifications are
// not correlated with a particular window.
type Broker struct {
	Origins    OriginMatcher
	Registry   *session.Registry
	Bus        *events.Bus
	References refstore.Store
	Replay     ReplayGuard
	ReplayTTL  time.Duration
	Logger     zerolog.Logger
}

// Deliver processes a raw notification body sent from origin. Foreign,
// malformed and unrecognized messages leave all state unchanged. The returned
// error is reserved for replay store failures.
func (b *Broker) Deliver(ctx context.Context, origin string, body []byte) (Delivery, error) {
	if !b.Origins.Match(origin) {
		obs.ObserveNotification("", string(ResultForeignOrigin))
		b.Logger.Debug().Str("origin", origin).Msg("notification_foreign_origin")
		return Delivery{Result: ResultForeignOrigin}, nil
	}
	n, err := decodeNotification(body)
	if err != nil {
		obs.ObserveNotification("", string(ResultMalformed))
		b.Logger.Debug().Err(err).Str("origin", origin).Msg("notification_malformed")
		return Delivery{Result: ResultMalformed}, nil
	}
	rt, ok := routes[n.Type]
	if !ok {
		obs.ObserveNotification("", string(ResultUnrecognized))
		b.Logger.Debug().Str("origin", origin).Str("type", n.Type).Msg("notification_ignored")
		return Delivery{Result: ResultUnrecognized, Type: n.Type}, nil
	}

	if b.Replay != nil && b.ReplayTTL > 0 {
		fresh, err := b.Replay.Acquire(ctx, replayKey(origin, body), b.ReplayTTL)
		if err != nil {
			obs.ObserveNotification(n.Type, "error")
			return Delivery{}, fmt.Errorf("broker: replay guard: %w", err)
		}
		if !fresh {
			obs.ObserveNotification(n.Type, string(ResultDuplicate))
			return Delivery{Result: ResultDuplicate, Type: n.Type}, nil
		}
	}

	return b.dispatch(ctx, origin, n, rt), nil
}

// Notify routes an already-decoded notification, bypassing origin checks.
// It serves in-process senders such as the CLI.
func (b *Broker) Notify(ctx context.Context, n Notification) (Delivery, bool) {
	rt, ok := routes[n.Type]
	if !ok {
		return Delivery{Result: ResultUnrecognized, Type: n.Type}, false
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	return b.dispatch(ctx, "", n, rt), true
}

func (b *Broker) dispatch(ctx context.Context, origin string, n Notification, rt route) Delivery {
	ref := ""
	if rt.kind == session.KindCompleted {
		ref = n.Reference()
		if ref != "" && b.References != nil {
			if err := b.References.Stash(ctx, ref); err != nil {
				b.Logger.Warn().Err(err).Msg("stash payment reference")
			}
		}
	}

	notified := 0
	if b.Bus != nil {
		notified = b.Bus.Publish(ctx, rt.topic, maps.Clone(n.Data))
	}

	settled := 0
	if b.Registry != nil {
		settled = b.Registry.SettleAll(func(*session.Session) session.Outcome {
			return n.outcome(rt.kind)
		})
	}
	if settled > 0 && ref != "" && b.References != nil {
		if err := b.References.Clear(ctx); err != nil {
			b.Logger.Warn().Err(err).Msg("clear payment reference")
		}
	}

	obs.ObserveNotification(n.Type, string(ResultAccepted))
	b.Logger.Info().
		Str("origin", origin).
		Str("type", n.Type).
		Str("reference", ref).
		Int("notified", notified).
		Int("settled", settled).
		Msg("notification_delivered")

	return Delivery{
		Result:    ResultAccepted,
		Type:      n.Type,
		Outcome:   rt.kind,
		Notified:  notified,
		Settled:   settled,
		Reference: ref,
	}
}
