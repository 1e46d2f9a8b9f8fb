package eventrelay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"solar_leads_backend/internal/events"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestRelayPublishesWithEventNameRoutingKey(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, "lead-engine.events", logger.Nop())
	bus := events.NewInMemoryBus(logger.Nop())
	r.RegisterHandlers(bus)

	offerID := uuid.New()
	if err := bus.PublishSync(context.Background(), events.OfferAccepted{BaseEvent: events.NewBaseEvent(), OfferID: offerID, Price: 85}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	got := pub.sent[0]
	if got.exchange != "lead-engine.events" || got.key != "offer.accepted" {
		t.Fatalf("unexpected destination %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" {
		t.Fatalf("expected persistent json message")
	}

	var env struct {
		Event string `json:"event"`
		Data  struct {
			OfferID uuid.UUID `json:"offerId"`
			Price   int64     `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(got.msg.Body, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != "offer.accepted" || env.Data.OfferID != offerID || env.Data.Price != 85 {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestRelayIgnoresUnrelayedEvents(t *testing.T) {
	pub := &fakePublisher{}
	bus := events.NewInMemoryBus(logger.Nop())
	New(pub, "x", logger.Nop()).RegisterHandlers(bus)

	if err := bus.PublishSync(context.Background(), events.NotificationOutboxDue{BaseEvent: events.NewBaseEvent()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("expected outbox events to stay internal")
	}
}

func TestRelayReturnsPublishError(t *testing.T) {
	r := New(&fakePublisher{err: errors.New("channel closed")}, "x", logger.Nop())
	if err := r.Handle(context.Background(), events.BonusPaid{BaseEvent: events.NewBaseEvent()}); err == nil {
		t.Fatalf("expected error")
	}
}
