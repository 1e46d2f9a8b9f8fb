package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/notification/outbox"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeEnqueuer struct {
	ids []uuid.UUID
	err error
}

func (f *fakeEnqueuer) EnqueueOutbox(_ context.Context, id uuid.UUID, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	return nil
}

func seedOutbox(t *testing.T, store *outbox.Memory, runAt time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := store.Insert(context.Background(), outbox.InsertParams{
			Kind:     outbox.KindEmail,
			Template: "offer_created",
			Payload:  map[string]string{"to": "ops@example.com"},
			RunAt:    runAt,
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestDispatchEnqueuesDueRecords(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	store := outbox.NewMemory()
	seedOutbox(t, store, now.Add(-time.Minute), 3)
	seedOutbox(t, store, now.Add(time.Hour), 1)

	enq := &fakeEnqueuer{}
	d := NewNotificationOutboxDispatcher(store, enq, nil, logger.Nop())
	d.SetClock(func() time.Time { return now })

	n, err := d.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 3 || len(enq.ids) != 3 {
		t.Fatalf("expected 3 dispatched, got %d (%d enqueued)", n, len(enq.ids))
	}
	statuses := map[outbox.Status]int{}
	for _, rec := range store.Records() {
		statuses[rec.Status]++
	}
	if statuses[outbox.StatusEnqueued] != 3 || statuses[outbox.StatusPending] != 1 {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestDispatchReturnsRecordToPendingOnEnqueueFailure(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	store := outbox.NewMemory()
	seedOutbox(t, store, now, 1)

	d := NewNotificationOutboxDispatcher(store, &fakeEnqueuer{err: errors.New("redis down")}, nil, logger.Nop())
	d.SetClock(func() time.Time { return now })

	n, err := d.Dispatch(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing dispatched, got %d, %v", n, err)
	}
	rec := store.Records()[0]
	if rec.Status != outbox.StatusPending || rec.LastError == nil || *rec.LastError != "redis down" {
		t.Fatalf("expected pending with error, got %+v", rec)
	}
}

func TestDispatchDeliversInlineWithoutQueue(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	store := outbox.NewMemory()
	seedOutbox(t, store, now, outboxClaimLimit+5)

	bus := events.NewInMemoryBus(logger.Nop())
	bus.Subscribe(events.NotificationOutboxDue{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		return store.MarkSucceeded(ctx, e.(events.NotificationOutboxDue).OutboxID)
	}))

	d := NewNotificationOutboxDispatcher(store, nil, bus, logger.Nop())
	d.SetClock(func() time.Time { return now })

	n, err := d.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != outboxClaimLimit+5 {
		t.Fatalf("expected every record delivered across batches, got %d", n)
	}
	for _, rec := range store.Records() {
		if rec.Status != outbox.StatusSucceeded {
			t.Fatalf("expected succeeded, got %s", rec.Status)
		}
	}
}

func TestWorkerPublishesOutboxDue(t *testing.T) {
	bus := events.NewInMemoryBus(logger.Nop())
	var got uuid.UUID
	bus.Subscribe(events.NotificationOutboxDue{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		got = e.(events.NotificationOutboxDue).OutboxID
		return nil
	}))
	w := &Worker{bus: bus, log: logger.Nop()}

	id := uuid.New()
	task, err := NewNotificationOutboxDueTask(NotificationOutboxDuePayload{OutboxID: id.String()})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if err := w.handleNotificationOutboxDue(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got != id {
		t.Fatalf("expected %s published, got %s", id, got)
	}

	bad := asynq.NewTask(TaskNotificationOutboxDue, []byte(`{"outboxId":"nope"}`))
	if err := w.handleNotificationOutboxDue(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for a malformed id, got %v", err)
	}
}

type signalEnqueuer struct {
	ids chan uuid.UUID
}

func (e signalEnqueuer) EnqueueOutbox(_ context.Context, id uuid.UUID, _ time.Time) error {
	e.ids <- id
	return nil
}

func TestRunDispatchesUntilCancelled(t *testing.T) {
	store := outbox.NewMemory()
	seedOutbox(t, store, time.Now().UTC().Add(-time.Minute), 1)

	enq := signalEnqueuer{ids: make(chan uuid.UUID, 1)}
	d := NewNotificationOutboxDispatcher(store, enq, nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	select {
	case <-enq.ids:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the due record to be dispatched")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
