// Package domain holds the entities shared by the lead distribution engine and
// the state machines that govern Lead and Offer status.
//
// Lead status graph:
//
//	new ──► offered ──► accepted ──► sold
//	 │         │ └──────────────────► sold (auction close)
//	 │         ├──► expired
//	 └─────────┴──► invalid
//
// Offer status graph:
//
//	pending ──► accepted | rejected | expired
//
// sold, expired and invalid leads, and every non-pending offer, are terminal.
package domain

import "fmt"

// LeadStatus mirrors the leads.status check constraint.
type LeadStatus string

const (
	LeadNew      LeadStatus = "new"
	LeadOffered  LeadStatus = "offered"
	LeadAccepted LeadStatus = "accepted"
	LeadSold     LeadStatus = "sold"
	LeadExpired  LeadStatus = "expired"
	LeadInvalid  LeadStatus = "invalid"
)

var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadNew:      {LeadOffered, LeadInvalid},
	LeadOffered:  {LeadAccepted, LeadSold, LeadExpired, LeadInvalid},
	LeadAccepted: {LeadSold},
}

// ParseLeadStatus converts a raw string to a LeadStatus.
func ParseLeadStatus(s string) (LeadStatus, error) {
	st := LeadStatus(s)
	switch st {
	case LeadNew, LeadOffered, LeadAccepted, LeadSold, LeadExpired, LeadInvalid:
		return st, nil
	}
	return "", fmt.Errorf("unknown lead status %q", s)
}

// CanTransition reports whether the lead state machine permits from -> to.
func (from LeadStatus) CanTransition(to LeadStatus) bool {
	for _, s := range leadTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OfferStatus mirrors the lead_offers.status check constraint.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
	OfferExpired  OfferStatus = "expired"
)

// ParseOfferStatus converts a raw string to an OfferStatus.
func ParseOfferStatus(s string) (OfferStatus, error) {
	st := OfferStatus(s)
	switch st {
	case OfferPending, OfferAccepted, OfferRejected, OfferExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown offer status %q", s)
}

// CanTransition reports whether an offer may move from -> to. Only pending offers move.
func (from OfferStatus) CanTransition(to OfferStatus) bool {
	return from == OfferPending && to != OfferPending
}

// TransactionStatus mirrors the transactions.status check constraint.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxProcessing TransactionStatus = "processing"
	TxSucceeded  TransactionStatus = "succeeded"
	TxFailed     TransactionStatus = "failed"
	TxRefunded   TransactionStatus = "refunded"
)

// ReferralStatus mirrors the referrals.status check constraint.
type ReferralStatus string

const (
	ReferralPending ReferralStatus = "pending"
	ReferralPaid    ReferralStatus = "paid"
)
