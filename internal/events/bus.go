package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownTopic is returned when subscribing to an event name outside DefaultTopics.
var ErrUnknownTopic = errors.New("events: unknown topic")

// Event is delivered to subscribers.
type Event struct {
	Topic      string
	Data       map[string]any
	OccurredAt time.Time
}

// Handler reacts to a published event. Returned errors and panics are logged
// and never reach the publisher.
type Handler func(ctx context.Context, ev Event) error

// SubscriptionID identifies one (topic, handler) registration.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus is an in-memory publish/subscribe registry for session outcome events.
type Bus struct {
	Logger zerolog.Logger

	mu     sync.RWMutex
	nextID SubscriptionID
	subs   map[string][]subscription
}

// NewBus returns an empty bus logging handler failures to logger.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{Logger: logger, subs: make(map[string][]subscription)}
}

// Subscribe registers handler for topic. Handlers run in registration order.
func (b *Bus) Subscribe(topic string, handler Handler) (SubscriptionID, error) {
	topic = strings.TrimSpace(topic)
	if !IsTopic(topic) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if handler == nil {
		return 0, errors.New("events: handler is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[string][]subscription)
	}
	b.nextID++
	b.subs[topic] = append(b.subs[topic], subscription{id: b.nextID, handler: handler})
	return b.nextID, nil
}

// Unsubscribe removes the registration matching (topic, id). It reports
// whether a registration was removed.
func (b *Bus) Unsubscribe(topic string, id SubscriptionID) bool {
	topic = strings.TrimSpace(topic)
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, sub := range list {
		if sub.id != id {
			continue
		}
		next := make([]subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		b.subs[topic] = next
		return true
	}
	return false
}

// Publish invokes every current subscriber of topic with data and returns how
// many handlers completed without error. Subscribers added or removed during
// delivery do not affect the in-flight publish.
func (b *Bus) Publish(ctx context.Context, topic string, data map[string]any) int {
	b.mu.RLock()
	list := b.subs[topic]
	b.mu.RUnlock()
	if len(list) == 0 {
		return 0
	}
	if data == nil {
		data = map[string]any{}
	}
	ev := Event{Topic: topic, Data: data, OccurredAt: time.Now()}
	delivered := 0
	for _, sub := range list {
		if err := b.invoke(ctx, sub, ev); err != nil {
			b.Logger.Error().
				Err(err).
				Str("topic", topic).
				Uint64("subscription_id", uint64(sub.id)).
				Msg("event_handler_failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Len returns the number of subscribers for topic.
func (b *Bus) Len(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
}

func (b *Bus) invoke(ctx context.Context, sub subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, ev)
}
