package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const offerColumns = `id, lead_id, installer_id, offer_price, distance_km, status, sent_at, expires_at,
	responded_at, email_sent, sms_sent, created_at`

func scanOffer(row rowScanner) (domain.Offer, error) {
	var o domain.Offer
	var status string
	err := row.Scan(&o.ID, &o.LeadID, &o.InstallerID, &o.OfferPrice, &o.DistanceKm, &status, &o.SentAt,
		&o.ExpiresAt, &o.RespondedAt, &o.EmailSent, &o.SMSSent, &o.CreatedAt)
	if err != nil {
		return domain.Offer{}, err
	}
	o.Status = domain.OfferStatus(status)
	return o, nil
}

func (r *Repository) queryOffers(ctx context.Context, sql string, args ...any) ([]domain.Offer, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Offer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) GetOfferByID(ctx context.Context, id uuid.UUID) (domain.Offer, error) {
	o, err := scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM lead_offers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Offer{}, apperr.NotFound("offer not found")
	}
	if err != nil {
		return domain.Offer{}, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

func (r *Repository) ListOffersByLead(ctx context.Context, leadID uuid.UUID) ([]domain.Offer, error) {
	items, err := r.queryOffers(ctx, `SELECT `+offerColumns+` FROM lead_offers
		WHERE lead_id = $1 ORDER BY sent_at ASC`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list offers by lead: %w", err)
	}
	return items, nil
}

func (r *Repository) ListOffersByInstaller(ctx context.Context, installerID uuid.UUID) ([]domain.Offer, error) {
	items, err := r.queryOffers(ctx, `SELECT `+offerColumns+` FROM lead_offers
		WHERE installer_id = $1 ORDER BY sent_at DESC`, installerID)
	if err != nil {
		return nil, fmt.Errorf("list offers by installer: %w", err)
	}
	return items, nil
}

func (r *Repository) ListExpiredOffers(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	items, err := r.queryOffers(ctx, `SELECT `+offerColumns+` FROM lead_offers
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired offers: %w", err)
	}
	return items, nil
}

func (r *Repository) ListPendingOffers(ctx context.Context) ([]domain.Offer, error) {
	items, err := r.queryOffers(ctx, `SELECT `+offerColumns+` FROM lead_offers
		WHERE status = 'pending'
		ORDER BY sent_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending offers: %w", err)
	}
	return items, nil
}

func (r *Repository) CountAcceptedOffersSince(ctx context.Context, installerID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM lead_offers
		WHERE installer_id = $1 AND status = 'accepted' AND sent_at >= $2`, installerID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accepted offers: %w", err)
	}
	return n, nil
}

// ListUnclosedAcceptedOffers returns accepted offers with no closure, no refunded
// transaction and no prior refund decision, responded to before the cutoff.
func (r *Repository) ListUnclosedAcceptedOffers(ctx context.Context, respondedBefore time.Time) ([]domain.Offer, error) {
	items, err := r.queryOffers(ctx, `SELECT `+offerColumns+` FROM lead_offers o
		WHERE o.status = 'accepted'
		  AND o.responded_at IS NOT NULL AND o.responded_at <= $1
		  AND NOT EXISTS (SELECT 1 FROM lead_closures c WHERE c.offer_id = o.id)
		  AND NOT EXISTS (SELECT 1 FROM refund_requests rr WHERE rr.offer_id = o.id)
		  AND NOT EXISTS (SELECT 1 FROM transactions t WHERE t.offer_id = o.id AND t.status = 'refunded')
		ORDER BY o.responded_at ASC`, respondedBefore)
	if err != nil {
		return nil, fmt.Errorf("list unclosed accepted offers: %w", err)
	}
	return items, nil
}

func (r *Repository) CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	if offer.Status == "" {
		offer.Status = domain.OfferPending
	}
	created, err := scanOffer(r.pool.QueryRow(ctx, `INSERT INTO lead_offers
			(id, lead_id, installer_id, offer_price, distance_km, status, sent_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+offerColumns,
		offer.ID, offer.LeadID, offer.InstallerID, offer.OfferPrice, offer.DistanceKm, string(offer.Status),
		offer.SentAt, offer.ExpiresAt,
	))
	if isUniqueViolation(err) {
		return domain.Offer{}, apperr.Conflict("installer already holds a live offer for this lead")
	}
	if err != nil {
		return domain.Offer{}, fmt.Errorf("insert offer: %w", err)
	}
	return created, nil
}

func (r *Repository) TransitionOffer(ctx context.Context, id uuid.UUID, to domain.OfferStatus, respondedAt *time.Time) error {
	if !domain.OfferPending.CanTransition(to) {
		return apperr.Validation("offer can only move from pending to a terminal status")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE lead_offers
		SET status = $2, responded_at = COALESCE($3, responded_at)
		WHERE id = $1 AND status = 'pending'`, id, string(to), respondedAt)
	if err != nil {
		return fmt.Errorf("transition offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("offer is no longer pending")
	}
	return nil
}

func (r *Repository) AcceptOffer(ctx context.Context, offerID uuid.UUID, respondedAt, monthStart time.Time) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		var installerID uuid.UUID
		var maxLeads int
		err := tx.QueryRow(ctx, `SELECT i.id, i.max_leads_per_month
			FROM lead_offers o
			JOIN installers i ON i.id = o.installer_id
			WHERE o.id = $1
			FOR UPDATE OF i`, offerID).Scan(&installerID, &maxLeads)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("offer not found")
		}
		if err != nil {
			return fmt.Errorf("lock installer: %w", err)
		}

		var accepted int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM lead_offers
			WHERE installer_id = $1 AND status = 'accepted' AND sent_at >= $2`,
			installerID, monthStart).Scan(&accepted); err != nil {
			return fmt.Errorf("count accepted offers: %w", err)
		}
		if accepted >= maxLeads {
			return ErrCapacityReached
		}

		var leadID uuid.UUID
		err = tx.QueryRow(ctx, `UPDATE lead_offers
			SET status = 'accepted', responded_at = $2
			WHERE id = $1 AND status = 'pending'
			RETURNING lead_id`, offerID, respondedAt).Scan(&leadID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Conflict("offer is no longer pending")
		}
		if isUniqueViolation(err) {
			return apperr.Conflict("lead already has an accepted offer")
		}
		if err != nil {
			return fmt.Errorf("accept offer: %w", err)
		}

		tag, err := tx.Exec(ctx, `UPDATE leads
			SET status = 'accepted', updated_at = now()
			WHERE id = $1 AND status = 'offered'`, leadID)
		if err != nil {
			return fmt.Errorf("accept lead: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("lead is no longer offered")
		}
		return nil
	})
}

func (r *Repository) ExpireSiblingOffers(ctx context.Context, leadID, acceptedOfferID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE lead_offers
		SET status = 'expired'
		WHERE lead_id = $1 AND id <> $2 AND status = 'pending'`, leadID, acceptedOfferID)
	if err != nil {
		return 0, fmt.Errorf("expire sibling offers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) MarkOfferNotified(ctx context.Context, id uuid.UUID, channel string) error {
	var sql string
	switch channel {
	case "email":
		sql = `UPDATE lead_offers SET email_sent = true WHERE id = $1`
	case "sms":
		sql = `UPDATE lead_offers SET sms_sent = true WHERE id = $1`
	default:
		return apperr.Validation("unknown notification channel " + channel)
	}
	if _, err := r.pool.Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("mark offer notified: %w", err)
	}
	return nil
}
