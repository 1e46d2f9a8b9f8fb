// Package events defines the lead engine's domain events: offer and lead
// lifecycle changes, refund and approval decisions, payouts and scheduler
// cycles. The bus itself is in platform/events; the aliases below let services
// depend on this package alone.
package events

import (
	platformevents "solar_leads_backend/platform/events"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = platformevents.Event
	Bus         = platformevents.Bus
	Handler     = platformevents.Handler
	HandlerFunc = platformevents.HandlerFunc
	BaseEvent   = platformevents.BaseEvent
	InMemoryBus = platformevents.InMemoryBus
)

var (
	NewBaseEvent = platformevents.NewBaseEvent
	Names        = platformevents.Names
)

// NewInMemoryBus builds the bus shared by a process's services.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(log)
}

// =============================================================================
// Offer Domain Events
// =============================================================================

// OfferCreated is published after a pending offer is persisted.
type OfferCreated struct {
	BaseEvent
	OfferID     uuid.UUID `json:"offerId"`
	LeadID      uuid.UUID `json:"leadId"`
	InstallerID uuid.UUID `json:"installerId"`
	Price       int64     `json:"price"`
	DistanceKm  int       `json:"distanceKm"`
	Suburb      string    `json:"suburb"`
	Postcode    string    `json:"postcode"`
	State       string    `json:"state"`
}

func (e OfferCreated) EventName() string { return "offer.created" }

// OfferAccepted is published when an offer wins its lead.
type OfferAccepted struct {
	BaseEvent
	OfferID      uuid.UUID `json:"offerId"`
	LeadID       uuid.UUID `json:"leadId"`
	InstallerID  uuid.UUID `json:"installerId"`
	Price        int64     `json:"price"`
	AutoAccepted bool      `json:"autoAccepted"`
}

func (e OfferAccepted) EventName() string { return "offer.accepted" }

// OfferRejected is published when an installer declines an offer.
type OfferRejected struct {
	BaseEvent
	OfferID     uuid.UUID `json:"offerId"`
	LeadID      uuid.UUID `json:"leadId"`
	InstallerID uuid.UUID `json:"installerId"`
}

func (e OfferRejected) EventName() string { return "offer.rejected" }

// OfferExpired is published for each offer the sweep expires.
type OfferExpired struct {
	BaseEvent
	OfferID     uuid.UUID `json:"offerId"`
	LeadID      uuid.UUID `json:"leadId"`
	InstallerID uuid.UUID `json:"installerId"`
}

func (e OfferExpired) EventName() string { return "offer.expired" }

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published after a lead is taken in.
type LeadCreated struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	Source    string    `json:"source"`
	BasePrice int64     `json:"basePrice"`
	Auction   bool      `json:"auction"`
}

func (e LeadCreated) EventName() string { return "lead.created" }

// LeadOffered is published when a lead moves to offered.
type LeadOffered struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	OffersCreated int       `json:"offersCreated"`
}

func (e LeadOffered) EventName() string { return "lead.offered" }

// LeadExpired is published when a lead is given up on.
type LeadExpired struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Reason string    `json:"reason"`
}

func (e LeadExpired) EventName() string { return "lead.expired" }

// LeadResold is published when a sold lead is cloned for resale.
type LeadResold struct {
	BaseEvent
	OriginalLeadID uuid.UUID `json:"originalLeadId"`
	NewLeadID      uuid.UUID `json:"newLeadId"`
	Price          int64     `json:"price"`
}

func (e LeadResold) EventName() string { return "lead.resold" }

// LeadSold is published when a lead's purchase charge settles.
type LeadSold struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	OfferID       uuid.UUID `json:"offerId"`
	InstallerID   uuid.UUID `json:"installerId"`
	FinalPrice    int64     `json:"finalPrice"`
	TransactionID uuid.UUID `json:"transactionId"`
}

func (e LeadSold) EventName() string { return "lead.sold" }

// LeadClosed is published when an installer reports a signed contract for a
// purchased lead.
type LeadClosed struct {
	BaseEvent
	ClosureID     uuid.UUID `json:"closureId"`
	LeadID        uuid.UUID `json:"leadId"`
	OfferID       uuid.UUID `json:"offerId"`
	InstallerID   uuid.UUID `json:"installerId"`
	ContractValue int64     `json:"contractValue"`
}

func (e LeadClosed) EventName() string { return "lead.closed" }

// AuctionClosed is published when an auction lead is sold to its winning bid.
type AuctionClosed struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	BidID       uuid.UUID `json:"bidId"`
	InstallerID uuid.UUID `json:"installerId"`
	FinalPrice  int64     `json:"finalPrice"`
}

func (e AuctionClosed) EventName() string { return "auction.closed" }

// =============================================================================
// Refund / Approval Domain Events
// =============================================================================

// RefundDecided is published after every refund adjudication.
type RefundDecided struct {
	BaseEvent
	OfferID      uuid.UUID  `json:"offerId"`
	InstallerID  *uuid.UUID `json:"installerId,omitempty"`
	Reason       string     `json:"reason"`
	Approved     bool       `json:"approved"`
	Decision     string     `json:"decision"`
	RefundAmount int64      `json:"refundAmount"`
	Automated    bool       `json:"automated"`
}

func (e RefundDecided) EventName() string { return "refund.decided" }

// InstallerReviewed is published after the approval gate applies a decision.
type InstallerReviewed struct {
	BaseEvent
	InstallerID uuid.UUID `json:"installerId"`
	Score       int       `json:"score"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason"`
}

func (e InstallerReviewed) EventName() string { return "installer.reviewed" }

// =============================================================================
// Payout Domain Events
// =============================================================================

// BonusPaid is published when a closure's performance bonus is released.
type BonusPaid struct {
	BaseEvent
	ClosureID   uuid.UUID `json:"closureId"`
	InstallerID uuid.UUID `json:"installerId"`
	AmountCents int64     `json:"amountCents"`
}

func (e BonusPaid) EventName() string { return "payout.bonus" }

// ReferralPaid is published when a referral commission is released.
type ReferralPaid struct {
	BaseEvent
	ReferralID          uuid.UUID `json:"referralId"`
	ReferrerInstallerID uuid.UUID `json:"referrerInstallerId"`
	AmountCents         int64     `json:"amountCents"`
}

func (e ReferralPaid) EventName() string { return "payout.referral" }

// =============================================================================
// Scheduler Events
// =============================================================================

// CycleCompleted is published at the end of every reconciliation cycle.
type CycleCompleted struct {
	BaseEvent
	CycleID uuid.UUID      `json:"cycleId"`
	Status  string         `json:"status"`
	Counts  map[string]int `json:"counts"`
}

func (e CycleCompleted) EventName() string { return "scheduler.cycle_completed" }

// NotificationOutboxDue is dispatched by the worker for a claimed outbox record.
type NotificationOutboxDue struct {
	BaseEvent
	OutboxID uuid.UUID `json:"outboxId"`
}

func (e NotificationOutboxDue) EventName() string { return "notification.outbox.due" }
