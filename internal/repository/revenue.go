package repository

import (
	"context"
	"fmt"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *Repository) ListUnpaidClosures(ctx context.Context) ([]domain.Closure, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, offer_id, lead_id, installer_id, contract_value,
			performance_bonus, bonus_paid, closed_at
		FROM lead_closures
		WHERE NOT bonus_paid
		ORDER BY closed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unpaid closures: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Closure, 0)
	for rows.Next() {
		var c domain.Closure
		if err := rows.Scan(&c.ID, &c.OfferID, &c.LeadID, &c.InstallerID, &c.ContractValue,
			&c.PerformanceBonusCents, &c.BonusPaid, &c.ClosedAt); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) MarkBonusPaid(ctx context.Context, closureID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE lead_closures SET bonus_paid = true
		WHERE id = $1 AND NOT bonus_paid`, closureID)
	if err != nil {
		return fmt.Errorf("mark bonus paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("bonus already paid")
	}
	return nil
}

// ListBids returns bids ordered by the auction ranking: highest amount, then earliest, then lowest id.
func (r *Repository) ListBids(ctx context.Context, leadID uuid.UUID) ([]domain.Bid, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, lead_id, installer_id, bid_amount, is_winning_bid, created_at
		FROM auction_bids
		WHERE lead_id = $1
		ORDER BY bid_amount DESC, created_at ASC, id ASC`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Bid, 0)
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.LeadID, &b.InstallerID, &b.BidAmount, &b.IsWinningBid, &b.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) CloseAuction(ctx context.Context, leadID, bidID uuid.UUID, finalPrice int64, soldAt time.Time) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE leads
			SET status = 'sold', final_price = $2, original_sale_date = $3, updated_at = now()
			WHERE id = $1 AND status = 'offered' AND is_auction_lead`, leadID, finalPrice, soldAt)
		if err != nil {
			return fmt.Errorf("sell auction lead: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("auction lead is no longer open")
		}

		tag, err = tx.Exec(ctx, `UPDATE auction_bids SET is_winning_bid = true
			WHERE id = $1 AND lead_id = $2`, bidID, leadID)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("auction already has a winning bid")
			}
			return fmt.Errorf("flag winning bid: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("bid not found")
		}
		return nil
	})
}

func (r *Repository) ListPendingReferrals(ctx context.Context) ([]domain.Referral, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, referrer_installer_id, referred_installer_id,
			commission_amount, status, paid_at, created_at
		FROM referrals
		WHERE status = 'pending'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending referrals: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Referral, 0)
	for rows.Next() {
		var ref domain.Referral
		var status string
		if err := rows.Scan(&ref.ID, &ref.ReferrerInstallerID, &ref.ReferredInstallerID,
			&ref.CommissionAmountCents, &status, &ref.PaidAt, &ref.CreatedAt); err != nil {
			return nil, err
		}
		ref.Status = domain.ReferralStatus(status)
		items = append(items, ref)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) MarkReferralPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE referrals SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status = 'pending'`, id, paidAt)
	if err != nil {
		return fmt.Errorf("mark referral paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("referral already paid")
	}
	return nil
}
