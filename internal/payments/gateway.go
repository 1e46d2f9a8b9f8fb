// Package payments abstracts the card processor behind charge and refund calls.
package payments

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrDeclined is returned when the processor refuses a charge.
var ErrDeclined = errors.New("payment declined")

// Gateway charges and refunds installers. Idempotency is the processor's concern.
type Gateway interface {
	Charge(ctx context.Context, amountCents int64, customerRef string, idempotencyKey string) (string, error)
	Refund(ctx context.Context, externalRef string) error
}

// NoopGateway approves everything and records the calls. Used when no processor is configured.
type NoopGateway struct {
	mu      sync.Mutex
	Charges []string
	Refunds []string
}

func (g *NoopGateway) Charge(_ context.Context, _ int64, customerRef string, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref := "noop_" + uuid.NewString()
	g.Charges = append(g.Charges, customerRef)
	return ref, nil
}

func (g *NoopGateway) Refund(_ context.Context, externalRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Refunds = append(g.Refunds, externalRef)
	return nil
}
