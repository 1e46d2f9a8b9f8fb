package scheduler

import (
	"context"
	"time"

	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/notification/outbox"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	outboxClaimLimit  = 50
	maxDispatchPasses = 20
)

// Enqueuer hands a claimed outbox record to the task queue.
type Enqueuer interface {
	EnqueueOutbox(ctx context.Context, outboxID uuid.UUID, runAt time.Time) error
}

// NotificationOutboxDispatcher claims due outbox records. With an Enqueuer
// they go to the asynq queue; without one they are delivered inline over the bus.
type NotificationOutboxDispatcher struct {
	repo     outbox.Store
	enqueuer Enqueuer
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
}

func NewNotificationOutboxDispatcher(repo outbox.Store, enqueuer Enqueuer, bus events.Bus, log *logger.Logger) *NotificationOutboxDispatcher {
	return &NotificationOutboxDispatcher{
		repo:     repo,
		enqueuer: enqueuer,
		bus:      bus,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *NotificationOutboxDispatcher) SetClock(now func() time.Time) { d.now = now }

// Dispatch claims every due record once and returns how many were handed off.
func (d *NotificationOutboxDispatcher) Dispatch(ctx context.Context) (int, error) {
	if d == nil || d.repo == nil {
		return 0, nil
	}

	dispatched := 0
	for pass := 0; pass < maxDispatchPasses; pass++ {
		records, err := d.repo.ClaimPending(ctx, d.now(), outboxClaimLimit)
		if err != nil {
			return dispatched, err
		}
		handedOff := 0
		for _, rec := range records {
			if d.handOff(ctx, rec) {
				handedOff++
			}
		}
		dispatched += handedOff
		if len(records) < outboxClaimLimit || handedOff == 0 {
			break
		}
	}
	return dispatched, nil
}

func (d *NotificationOutboxDispatcher) handOff(ctx context.Context, rec outbox.Record) bool {
	var err error
	if d.enqueuer != nil {
		err = d.enqueuer.EnqueueOutbox(ctx, rec.ID, rec.RunAt)
	} else if d.bus != nil {
		err = d.bus.PublishSync(ctx, events.NotificationOutboxDue{
			BaseEvent: events.NewBaseEvent(),
			OutboxID:  rec.ID,
		})
	}
	if err != nil {
		msg := err.Error()
		_ = d.repo.MarkPending(ctx, rec.ID, &msg)
		d.log.Warn("outbox hand-off failed", "outboxId", rec.ID.String(), "error", err)
		return false
	}
	return true
}

// Run dispatches on a fixed interval until ctx is cancelled.
func (d *NotificationOutboxDispatcher) Run(ctx context.Context, interval time.Duration) {
	if d == nil || d.repo == nil {
		return
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := d.Dispatch(ctx); err != nil {
			d.log.Warn("outbox claim failed", "error", err)
		}
	}
}
