// Package activity records AgentActivity telemetry for scheduler cycles and
// on-demand decisions.
package activity

import (
	"context"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/logger"
)

// Activity types written by the engine.
const (
	TypeLeadMatching      = "lead_matching"
	TypeRefundDecision    = "refund_decision"
	TypeInstallerApproval = "installer_approval"
	TypeLeadSourcing      = "lead_sourcing"
)

// Store is the append-only sink.
type Store interface {
	CreateAgentActivity(ctx context.Context, activity domain.AgentActivity) error
}

// Recorder writes telemetry records. Failures are logged and never returned,
// so telemetry cannot break the operation it describes.
type Recorder struct {
	store Store
	log   *logger.Logger
}

func NewRecorder(store Store, log *logger.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Entry is the caller-facing shape of one record.
type Entry struct {
	Type           string
	Description    string
	StartedAt      time.Time
	Err            error
	LeadsGenerated int
	LeadsQualified int
	OffersCreated  int
	Metadata       map[string]any
}

// Record persists the entry with status derived from Err.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.store == nil {
		return
	}
	completed := time.Now().UTC()
	started := e.StartedAt
	if started.IsZero() {
		started = completed
	}

	a := domain.AgentActivity{
		ActivityType:   e.Type,
		Description:    e.Description,
		Status:         domain.ActivitySuccess,
		LeadsGenerated: e.LeadsGenerated,
		LeadsQualified: e.LeadsQualified,
		OffersCreated:  e.OffersCreated,
		Metadata:       e.Metadata,
		StartedAt:      started.UTC(),
		CompletedAt:    &completed,
	}
	if e.Err != nil {
		msg := e.Err.Error()
		a.Status = domain.ActivityFailed
		a.ErrorDetails = &msg
	}

	if err := r.store.CreateAgentActivity(context.WithoutCancel(ctx), a); err != nil {
		r.log.Error("record agent activity failed", "type", e.Type, "error", err)
	}
}
