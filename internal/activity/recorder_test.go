package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/repository/memory"
	"solar_leads_backend/platform/logger"
)

func TestRecordDerivesStatus(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, logger.Nop())

	rec.Record(context.Background(), Entry{Type: TypeLeadMatching, Description: "ok", StartedAt: time.Now()})
	rec.Record(context.Background(), Entry{Type: TypeLeadMatching, Description: "boom", Err: errors.New("db down")})

	got := store.Activities()
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Status != domain.ActivitySuccess || got[0].ErrorDetails != nil {
		t.Fatalf("unexpected first record %+v", got[0])
	}
	if got[1].Status != domain.ActivityFailed || got[1].ErrorDetails == nil || *got[1].ErrorDetails != "db down" {
		t.Fatalf("unexpected second record %+v", got[1])
	}
	if got[1].CompletedAt == nil {
		t.Fatal("expected completion time")
	}
}

type failingStore struct{}

func (failingStore) CreateAgentActivity(context.Context, domain.AgentActivity) error {
	return errors.New("unavailable")
}

func TestRecordSwallowsStoreErrors(t *testing.T) {
	rec := NewRecorder(failingStore{}, logger.Nop())
	rec.Record(context.Background(), Entry{Type: TypeRefundDecision})
}
