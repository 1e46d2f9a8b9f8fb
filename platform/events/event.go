// Package events is the in-process bus that carries lead lifecycle changes from
// the services that cause them to notification delivery and the RabbitMQ relay.
// Event types themselves live in internal/events.
package events

import (
	"context"
	"time"
)

// Event is a lead lifecycle change. EventName doubles as the relay routing key,
// so names are dotted and must not change once published ("offer.accepted").
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent stamps an event with the UTC instant it was raised.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Names returns the routing keys of the given events, in order.
func Names(evts ...Event) []string {
	out := make([]string, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.EventName())
	}
	return out
}

// Handler reacts to one event. The bus logs returned errors and recovers panics.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus routes an event to every handler subscribed to its name.
type Bus interface {
	// Publish runs handlers in the background and returns at once.
	Publish(ctx context.Context, event Event)

	// PublishSync runs handlers inline and joins their errors. Outbox delivery
	// goes through it so a failed send surfaces to the task queue.
	PublishSync(ctx context.Context, event Event) error

	Subscribe(eventName string, handler Handler)
}
