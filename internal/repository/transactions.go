package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, lead_id, installer_id, offer_id, amount_cents, currency, status,
	external_payment_ref, metadata, failure_reason, paid_at, created_at, updated_at`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	var status string
	var metadata []byte
	err := row.Scan(&t.ID, &t.LeadID, &t.InstallerID, &t.OfferID, &t.AmountCents, &t.Currency, &status,
		&t.ExternalPaymentRef, &metadata, &t.FailureReason, &t.PaidAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Status = domain.TransactionStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return domain.Transaction{}, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	return t, nil
}

func (r *Repository) CreateTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = domain.TxPending
	}
	if t.Currency == "" {
		t.Currency = "AUD"
	}
	metadata, err := t.MarshalMetadata()
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("encode transaction metadata: %w", err)
	}

	created, err := scanTransaction(r.pool.QueryRow(ctx, `INSERT INTO transactions
			(id, lead_id, installer_id, offer_id, amount_cents, currency, status, external_payment_ref, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+transactionColumns,
		t.ID, t.LeadID, t.InstallerID, t.OfferID, t.AmountCents, t.Currency, string(t.Status),
		t.ExternalPaymentRef, metadata,
	))
	if isUniqueViolation(err) {
		return domain.Transaction{}, apperr.Conflict("offer already has a transaction")
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return created, nil
}

// UpdateTransaction writes the gateway outcome. Refunds go through MarkTransactionRefunded.
func (r *Repository) UpdateTransaction(ctx context.Context, t domain.Transaction) error {
	if t.Status == domain.TxRefunded {
		return apperr.Validation("use the refund path to refund a transaction")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE transactions
		SET status = $2, external_payment_ref = $3, failure_reason = $4, paid_at = $5, updated_at = now()
		WHERE id = $1 AND status <> 'refunded'`,
		t.ID, string(t.Status), t.ExternalPaymentRef, t.FailureReason, t.PaidAt)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("transaction not found")
	}
	return nil
}

// GetTransactionByOfferID matches on the offer column or the offerId metadata reference.
func (r *Repository) GetTransactionByOfferID(ctx context.Context, offerID uuid.UUID) (domain.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE offer_id = $1 OR metadata->>'offerId' = $2
		ORDER BY created_at ASC
		LIMIT 1`, offerID, offerID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, apperr.NotFound("transaction not found")
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("get transaction by offer: %w", err)
	}
	return t, nil
}

func (r *Repository) ListTransactionsByInstaller(ctx context.Context, installerID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE installer_id = $1 ORDER BY created_at DESC`, installerID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) MarkTransactionRefunded(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions
		SET status = 'refunded', updated_at = now()
		WHERE id = $1 AND status = 'succeeded'`, id)
	if err != nil {
		return fmt.Errorf("refund transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("only succeeded transactions can be refunded")
	}
	return nil
}

func (r *Repository) RecordSale(ctx context.Context, t domain.Transaction, finalPrice int64, soldAt time.Time) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE transactions
			SET status = 'succeeded', external_payment_ref = $2, failure_reason = NULL, paid_at = $3, updated_at = now()
			WHERE id = $1 AND status IN ('pending', 'processing')`,
			t.ID, t.ExternalPaymentRef, soldAt)
		if err != nil {
			return fmt.Errorf("settle transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("transaction is no longer pending")
		}

		tag, err = tx.Exec(ctx, `UPDATE leads
			SET status = 'sold', final_price = $2, original_sale_date = $3, updated_at = now()
			WHERE id = $1 AND status = 'accepted'`, t.LeadID, finalPrice, soldAt)
		if err != nil {
			return fmt.Errorf("sell lead: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("lead is no longer accepted")
		}
		return nil
	})
}
