// Package eventrelay forwards domain events to a RabbitMQ topic exchange so
// systems outside the engine can follow lead flow.
package eventrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"solar_leads_backend/internal/events"
	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeKind = "topic"

// RelayedEvents lists the event names forwarded to the exchange.
var RelayedEvents = events.Names(
	events.LeadCreated{},
	events.LeadOffered{},
	events.LeadExpired{},
	events.LeadResold{},
	events.LeadSold{},
	events.LeadClosed{},
	events.OfferCreated{},
	events.OfferAccepted{},
	events.OfferRejected{},
	events.OfferExpired{},
	events.AuctionClosed{},
	events.RefundDecided{},
	events.InstallerReviewed{},
	events.BonusPaid{},
	events.ReferralPaid{},
	events.CycleCompleted{},
)

// Publisher is the subset of *amqp.Channel the relay uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Relay struct {
	mu       sync.Mutex
	pub      Publisher
	exchange string
	log      *logger.Logger
	conn     *amqp.Connection
	ch       *amqp.Channel
}

type envelope struct {
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

func New(pub Publisher, exchange string, log *logger.Logger) *Relay {
	return &Relay{pub: pub, exchange: exchange, log: log}
}

// Dial connects to RabbitMQ and declares the exchange. It returns nil when
// the relay is disabled.
func Dial(cfg config.RelayConfig, log *logger.Logger) (*Relay, error) {
	if !cfg.IsRelayEnabled() {
		return nil, nil
	}
	conn, err := amqp.Dial(cfg.GetRabbitMQURL())
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	exchange := cfg.GetRabbitMQExchange()
	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	r := New(ch, exchange, log)
	r.conn = conn
	r.ch = ch
	return r, nil
}

func (r *Relay) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	return r.conn.Close()
}

// RegisterHandlers subscribes the relay to every relayed event.
func (r *Relay) RegisterHandlers(bus events.Bus) {
	for _, name := range RelayedEvents {
		bus.Subscribe(name, r)
	}
	r.log.Info("event relay registered", "exchange", r.exchange, "events", len(RelayedEvents))
}

// Handle publishes the event with its name as the routing key.
func (r *Relay) Handle(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventName(), err)
	}
	body, err := json.Marshal(envelope{
		Event:      event.EventName(),
		OccurredAt: event.OccurredAt(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.pub.PublishWithContext(ctx, r.exchange, event.EventName(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt(),
		Type:         event.EventName(),
		Body:         body,
	})
	if err != nil {
		r.log.Warn("event relay publish failed", "event", event.EventName(), "error", err)
		return fmt.Errorf("publish %s: %w", event.EventName(), err)
	}
	return nil
}
