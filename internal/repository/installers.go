package repository

import (
	"context"
	"errors"
	"fmt"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const installerColumns = `id, company_name, contact_name, email, phone, abn, state, service_postcodes,
	service_radius_km, latitude, longitude, max_leads_per_month, max_lead_price, auto_accept_leads,
	stripe_customer_id, is_active, is_verified, created_at, updated_at`

func scanInstaller(row rowScanner) (domain.Installer, error) {
	var i domain.Installer
	err := row.Scan(
		&i.ID, &i.CompanyName, &i.ContactName, &i.Email, &i.Phone, &i.ABN, &i.State, &i.ServicePostcodes,
		&i.ServiceRadiusKm, &i.Latitude, &i.Longitude, &i.MaxLeadsPerMonth, &i.MaxLeadPrice, &i.AutoAcceptLeads,
		&i.StripeCustomerID, &i.IsActive, &i.IsVerified, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

func (r *Repository) queryInstallers(ctx context.Context, sql string, args ...any) ([]domain.Installer, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Installer, 0)
	for rows.Next() {
		inst, err := scanInstaller(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inst)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) GetInstallerByID(ctx context.Context, id uuid.UUID) (domain.Installer, error) {
	inst, err := scanInstaller(r.pool.QueryRow(ctx, `SELECT `+installerColumns+` FROM installers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Installer{}, apperr.NotFound("installer not found")
	}
	if err != nil {
		return domain.Installer{}, fmt.Errorf("get installer: %w", err)
	}
	return inst, nil
}

// ListActiveInstallers returns installers with is_active set; verification is judged by the scorer.
func (r *Repository) ListActiveInstallers(ctx context.Context) ([]domain.Installer, error) {
	items, err := r.queryInstallers(ctx, `SELECT `+installerColumns+` FROM installers
		WHERE is_active
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active installers: %w", err)
	}
	return items, nil
}

func (r *Repository) ListInstallersAwaitingReview(ctx context.Context) ([]domain.Installer, error) {
	items, err := r.queryInstallers(ctx, `SELECT `+installerColumns+` FROM installers
		WHERE is_active AND NOT is_verified AND abn IS NOT NULL AND abn <> ''
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list installers awaiting review: %w", err)
	}
	return items, nil
}

func (r *Repository) UpdateInstallerFlags(ctx context.Context, id uuid.UUID, active, verified bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE installers
		SET is_active = $2, is_verified = $3, updated_at = now()
		WHERE id = $1`, id, active, verified)
	if err != nil {
		return fmt.Errorf("update installer flags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("installer not found")
	}
	return nil
}
