package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"solar_leads_backend/internal/domain"

	"github.com/google/uuid"
)

func (r *Repository) CreateRefundRecord(ctx context.Context, rec domain.RefundRecord) (domain.RefundRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO refund_requests
			(id, offer_id, installer_id, reason, contact_attempts, evidence_key, approved, decision_reason,
			 refund_amount, automated, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING processed_at`,
		rec.ID, rec.OfferID, rec.InstallerID, string(rec.Reason), rec.ContactAttempts, rec.EvidenceKey,
		rec.Approved, rec.DecisionReason, rec.RefundAmount, rec.Automated, rec.ProcessedAt,
	).Scan(&rec.ProcessedAt)
	if err != nil {
		return domain.RefundRecord{}, fmt.Errorf("insert refund record: %w", err)
	}
	return rec, nil
}

func (r *Repository) ListRefundRecordsByOffer(ctx context.Context, offerID uuid.UUID) ([]domain.RefundRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, offer_id, installer_id, reason, contact_attempts, evidence_key,
			approved, decision_reason, refund_amount, automated, processed_at
		FROM refund_requests
		WHERE offer_id = $1
		ORDER BY processed_at DESC`, offerID)
	if err != nil {
		return nil, fmt.Errorf("list refund records: %w", err)
	}
	defer rows.Close()

	items := make([]domain.RefundRecord, 0)
	for rows.Next() {
		var rec domain.RefundRecord
		var reason string
		if err := rows.Scan(&rec.ID, &rec.OfferID, &rec.InstallerID, &reason, &rec.ContactAttempts,
			&rec.EvidenceKey, &rec.Approved, &rec.DecisionReason, &rec.RefundAmount, &rec.Automated,
			&rec.ProcessedAt); err != nil {
			return nil, err
		}
		rec.Reason = domain.RefundReason(reason)
		items = append(items, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) CreateAgentActivity(ctx context.Context, a domain.AgentActivity) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode activity metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO agent_activities
			(id, activity_type, description, status, leads_generated, leads_qualified, offers_created,
			 error_details, metadata, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ActivityType, a.Description, string(a.Status), a.LeadsGenerated, a.LeadsQualified,
		a.OffersCreated, a.ErrorDetails, metadataJSON, a.StartedAt, a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert agent activity: %w", err)
	}
	return nil
}
