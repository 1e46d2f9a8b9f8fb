package repository

import (
	"context"
	"time"

	"solar_leads_backend/internal/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces
// =====================================

// LeadReader provides read-only access to leads.
type LeadReader interface {
	GetLeadByID(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	ListLeadsByStatus(ctx context.Context, status domain.LeadStatus, limit int) ([]domain.Lead, error)
	LeadContactExists(ctx context.Context, email, phone string) (bool, error)
}

// LeadWriter provides lead mutations. Status changes are compare-and-set.
type LeadWriter interface {
	CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, error)
	TransitionLead(ctx context.Context, id uuid.UUID, from, to domain.LeadStatus) error
}

// InstallerReader provides read-only access to installers.
type InstallerReader interface {
	GetInstallerByID(ctx context.Context, id uuid.UUID) (domain.Installer, error)
	ListActiveInstallers(ctx context.Context) ([]domain.Installer, error)
	ListInstallersAwaitingReview(ctx context.Context) ([]domain.Installer, error)
}

// InstallerWriter applies approval decisions.
type InstallerWriter interface {
	UpdateInstallerFlags(ctx context.Context, id uuid.UUID, active, verified bool) error
}

// OfferReader provides read-only access to offers.
type OfferReader interface {
	GetOfferByID(ctx context.Context, id uuid.UUID) (domain.Offer, error)
	ListOffersByLead(ctx context.Context, leadID uuid.UUID) ([]domain.Offer, error)
	ListOffersByInstaller(ctx context.Context, installerID uuid.UUID) ([]domain.Offer, error)
	ListExpiredOffers(ctx context.Context, now time.Time) ([]domain.Offer, error)
	ListPendingOffers(ctx context.Context) ([]domain.Offer, error)
	CountAcceptedOffersSince(ctx context.Context, installerID uuid.UUID, since time.Time) (int, error)
	ListUnclosedAcceptedOffers(ctx context.Context, respondedBefore time.Time) ([]domain.Offer, error)
}

// OfferWriter provides offer mutations.
type OfferWriter interface {
	// CreateOffer returns a Conflict error when a live offer already exists for the pair.
	CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error)
	// TransitionOffer moves a pending offer to a terminal status.
	TransitionOffer(ctx context.Context, id uuid.UUID, to domain.OfferStatus, respondedAt *time.Time) error
	// AcceptOffer atomically moves the lead offered -> accepted and the offer pending -> accepted.
	// The installer row is locked while its acceptances since monthStart are counted;
	// at the monthly cap it returns ErrCapacityReached and changes nothing.
	AcceptOffer(ctx context.Context, offerID uuid.UUID, respondedAt, monthStart time.Time) error
	ExpireSiblingOffers(ctx context.Context, leadID, acceptedOfferID uuid.UUID) (int, error)
	MarkOfferNotified(ctx context.Context, id uuid.UUID, channel string) error
}

// TransactionStore manages transactions.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransactionByOfferID(ctx context.Context, offerID uuid.UUID) (domain.Transaction, error)
	ListTransactionsByInstaller(ctx context.Context, installerID uuid.UUID) ([]domain.Transaction, error)
	// MarkTransactionRefunded moves a succeeded transaction to refunded.
	MarkTransactionRefunded(ctx context.Context, id uuid.UUID) error
	// RecordSale marks a pending transaction succeeded and moves its lead
	// accepted -> sold with the final price and sale date, in one transaction.
	RecordSale(ctx context.Context, tx domain.Transaction, finalPrice int64, soldAt time.Time) error
}

// ClosureStore records installer-reported sales.
type ClosureStore interface {
	// CreateClosure returns a Conflict error when the offer is already closed.
	CreateClosure(ctx context.Context, closure domain.Closure) (domain.Closure, error)
}

// RevenueStore backs the revenue sweep.
type RevenueStore interface {
	ListResaleCandidates(ctx context.Context, soldBefore time.Time) ([]domain.Lead, error)
	// ResellLead inserts the clone and flags the original in one transaction.
	ResellLead(ctx context.Context, originalID uuid.UUID, clone domain.Lead) (domain.Lead, error)
	ListUnpaidClosures(ctx context.Context) ([]domain.Closure, error)
	MarkBonusPaid(ctx context.Context, closureID uuid.UUID) error
	ListClosableAuctions(ctx context.Context, now time.Time) ([]domain.Lead, error)
	ListBids(ctx context.Context, leadID uuid.UUID) ([]domain.Bid, error)
	// CloseAuction flags the winning bid and sells the lead in one transaction.
	CloseAuction(ctx context.Context, leadID, bidID uuid.UUID, finalPrice int64, soldAt time.Time) error
	ListPendingReferrals(ctx context.Context) ([]domain.Referral, error)
	MarkReferralPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
}

// RefundStore persists refund decisions.
type RefundStore interface {
	CreateRefundRecord(ctx context.Context, rec domain.RefundRecord) (domain.RefundRecord, error)
	ListRefundRecordsByOffer(ctx context.Context, offerID uuid.UUID) ([]domain.RefundRecord, error)
}

// ActivityStore is the append-only telemetry log.
type ActivityStore interface {
	CreateAgentActivity(ctx context.Context, activity domain.AgentActivity) error
}

// =====================================
// Composite Interface
// =====================================

// Store is every persistence operation the engine consumes.
type Store interface {
	LeadReader
	LeadWriter
	InstallerReader
	InstallerWriter
	OfferReader
	OfferWriter
	TransactionStore
	ClosureStore
	RevenueStore
	RefundStore
	ActivityStore
}

// Ensure Repository implements Store
var _ Store = (*Repository)(nil)
