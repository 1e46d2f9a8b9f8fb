package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"solar_leads_backend/platform/apperr"

	"github.com/google/uuid"
)

// Memory is an in-process outbox used by tests and by deployments without a queue.
type Memory struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[uuid.UUID]Record)}
}

func (m *Memory) Insert(_ context.Context, p InsertParams) (uuid.UUID, error) {
	payloadBytes, err := p.normalize()
	if err != nil {
		return uuid.Nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := Record{
		ID:       uuid.New(),
		Kind:     p.Kind,
		Template: p.Template,
		Payload:  payloadBytes,
		OfferID:  p.OfferID,
		RunAt:    p.RunAt,
		Status:   p.Status,
	}
	m.records[rec.ID] = rec
	return rec.ID, nil
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, apperr.NotFound("outbox record not found")
	}
	return rec, nil
}

// Records returns every record ordered by run time.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

func (m *Memory) ClaimPending(_ context.Context, now time.Time, limit int) ([]Record, error) {
	if limit < 1 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Record
	for _, rec := range m.records {
		if rec.Status == StatusPending && !rec.RunAt.After(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = StatusEnqueued
		m.records[due[i].ID] = due[i]
	}
	return due, nil
}

func (m *Memory) MarkPending(_ context.Context, id uuid.UUID, lastError *string) error {
	return m.update(id, func(rec *Record) {
		rec.Status = StatusPending
		rec.LastError = lastError
	})
}

func (m *Memory) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(rec *Record) {
		rec.Status = StatusProcessing
		rec.Attempts++
	})
}

func (m *Memory) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(rec *Record) {
		rec.Status = StatusSucceeded
		rec.LastError = nil
	})
}

func (m *Memory) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	return m.update(id, func(rec *Record) {
		rec.Status = StatusFailed
		rec.LastError = &lastError
	})
}

func (m *Memory) ScheduleRetry(_ context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	return m.update(id, func(rec *Record) {
		rec.Status = StatusPending
		rec.RunAt = runAt
		rec.LastError = &lastError
	})
}

func (m *Memory) update(id uuid.UUID, fn func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return apperr.NotFound("outbox record not found")
	}
	fn(&rec)
	m.records[id] = rec
	return nil
}
