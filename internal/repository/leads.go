package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const leadColumns = `id, source, customer_name, customer_email, customer_phone, suburb, state, postcode,
	latitude, longitude, property_type, lead_type, estimated_system_size, quality_score, base_price,
	final_price, status, is_resold, resale_count, original_sale_date, is_auction_lead,
	auction_start_price, auction_end_time, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var l domain.Lead
	var propertyType, leadType, status string
	err := row.Scan(
		&l.ID, &l.Source, &l.CustomerName, &l.CustomerEmail, &l.CustomerPhone, &l.Suburb, &l.State, &l.Postcode,
		&l.Latitude, &l.Longitude, &propertyType, &leadType, &l.EstimatedSystemSize, &l.QualityScore, &l.BasePrice,
		&l.FinalPrice, &status, &l.IsResold, &l.ResaleCount, &l.OriginalSaleDate, &l.IsAuctionLead,
		&l.AuctionStartPrice, &l.AuctionEndTime, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}
	l.PropertyType = domain.PropertyType(propertyType)
	l.LeadType = domain.LeadType(leadType)
	l.Status = domain.LeadStatus(status)
	return l, nil
}

func collectLeads(rows pgx.Rows) ([]domain.Lead, error) {
	defer rows.Close()
	items := make([]domain.Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) GetLeadByID(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return domain.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

func (r *Repository) ListLeadsByStatus(ctx context.Context, status domain.LeadStatus, limit int) ([]domain.Lead, error) {
	if limit < 1 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT `+leadColumns+` FROM leads
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return collectLeads(rows)
}

func (r *Repository) LeadContactExists(ctx context.Context, email, phone string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	phone = strings.TrimSpace(phone)
	if email == "" && phone == "" {
		return false, nil
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM leads
		WHERE ($1 <> '' AND lower(customer_email) = $1)
		   OR ($2 <> '' AND customer_phone = $2)
	)`, email, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check lead contact: %w", err)
	}
	return exists, nil
}

func (r *Repository) CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	return insertLead(ctx, r.pool, lead)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertLead(ctx context.Context, q queryRower, lead domain.Lead) (domain.Lead, error) {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if lead.Status == "" {
		lead.Status = domain.LeadNew
	}
	if lead.PropertyType == "" {
		lead.PropertyType = domain.PropertyResidential
	}
	if lead.LeadType == "" {
		lead.LeadType = domain.LeadTypeStandard
	}
	if lead.Source == "" {
		lead.Source = "manual"
	}

	created, err := scanLead(q.QueryRow(ctx, `INSERT INTO leads (
			id, source, customer_name, customer_email, customer_phone, suburb, state, postcode,
			latitude, longitude, property_type, lead_type, estimated_system_size, quality_score, base_price,
			final_price, status, is_resold, resale_count, original_sale_date, is_auction_lead,
			auction_start_price, auction_end_time, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING `+leadColumns,
		lead.ID, lead.Source, lead.CustomerName, lead.CustomerEmail, lead.CustomerPhone, lead.Suburb, lead.State, lead.Postcode,
		lead.Latitude, lead.Longitude, string(lead.PropertyType), string(lead.LeadType), lead.EstimatedSystemSize,
		lead.QualityScore, lead.BasePrice, lead.FinalPrice, string(lead.Status), lead.IsResold, lead.ResaleCount,
		lead.OriginalSaleDate, lead.IsAuctionLead, lead.AuctionStartPrice, lead.AuctionEndTime, lead.ExpiresAt,
	))
	if err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	return created, nil
}

// TransitionLead is a compare-and-set on leads.status; a lost race yields Conflict.
func (r *Repository) TransitionLead(ctx context.Context, id uuid.UUID, from, to domain.LeadStatus) error {
	if !from.CanTransition(to) {
		return apperr.Validation(fmt.Sprintf("lead cannot move from %s to %s", from, to))
	}
	tag, err := r.pool.Exec(ctx, `UPDATE leads
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transition lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("lead is no longer " + string(from))
	}
	return nil
}

func (r *Repository) ListResaleCandidates(ctx context.Context, soldBefore time.Time) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+leadColumns+` FROM leads
		WHERE status = 'sold' AND NOT is_resold
		  AND original_sale_date IS NOT NULL AND original_sale_date < $1
		ORDER BY original_sale_date ASC`, soldBefore)
	if err != nil {
		return nil, fmt.Errorf("list resale candidates: %w", err)
	}
	return collectLeads(rows)
}

func (r *Repository) ResellLead(ctx context.Context, originalID uuid.UUID, clone domain.Lead) (domain.Lead, error) {
	var created domain.Lead
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE leads
			SET is_resold = true, updated_at = now()
			WHERE id = $1 AND status = 'sold' AND NOT is_resold`, originalID)
		if err != nil {
			return fmt.Errorf("flag resold lead: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("lead already resold")
		}
		created, err = insertLead(ctx, tx, clone)
		return err
	})
	if err != nil {
		return domain.Lead{}, err
	}
	return created, nil
}

func (r *Repository) ListClosableAuctions(ctx context.Context, now time.Time) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+leadColumns+` FROM leads
		WHERE is_auction_lead AND status = 'offered'
		  AND auction_end_time IS NOT NULL AND auction_end_time < $1
		ORDER BY auction_end_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list closable auctions: %w", err)
	}
	return collectLeads(rows)
}
