package repository

import (
	"context"
	"fmt"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"
)

func (r *Repository) CreateClosure(ctx context.Context, c domain.Closure) (domain.Closure, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO lead_closures
			(offer_id, lead_id, installer_id, contract_value, performance_bonus, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, bonus_paid`,
		c.OfferID, c.LeadID, c.InstallerID, c.ContractValue, c.PerformanceBonusCents, c.ClosedAt,
	).Scan(&c.ID, &c.BonusPaid)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Closure{}, apperr.Conflict("offer already has a reported closure")
		}
		return domain.Closure{}, fmt.Errorf("create closure: %w", err)
	}
	return c, nil
}
