// Package memory is an in-process implementation of repository.Store. It keeps
// the same conditional-update semantics as the SQL repository so lifecycle
// rules can be exercised without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/apperr"

	"github.com/google/uuid"
)

type Store struct {
	mu           sync.Mutex
	leads        map[uuid.UUID]domain.Lead
	installers   map[uuid.UUID]domain.Installer
	offers       map[uuid.UUID]domain.Offer
	transactions map[uuid.UUID]domain.Transaction
	closures     map[uuid.UUID]domain.Closure
	referrals    map[uuid.UUID]domain.Referral
	bids         map[uuid.UUID]domain.Bid
	refunds      []domain.RefundRecord
	activities   []domain.AgentActivity
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		leads:        make(map[uuid.UUID]domain.Lead),
		installers:   make(map[uuid.UUID]domain.Installer),
		offers:       make(map[uuid.UUID]domain.Offer),
		transactions: make(map[uuid.UUID]domain.Transaction),
		closures:     make(map[uuid.UUID]domain.Closure),
		referrals:    make(map[uuid.UUID]domain.Referral),
		bids:         make(map[uuid.UUID]domain.Bid),
	}
}

// =============================================================================
// Seeding and inspection helpers
// =============================================================================

func (s *Store) PutLead(l domain.Lead) domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = domain.LeadNew
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.leads[l.ID] = l
	return l
}

func (s *Store) PutInstaller(i domain.Installer) domain.Installer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC().Add(time.Duration(len(s.installers)) * time.Millisecond)
	}
	s.installers[i.ID] = i
	return i
}

func (s *Store) PutOffer(o domain.Offer) domain.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = domain.OfferPending
	}
	s.offers[o.ID] = o
	return o
}

func (s *Store) PutTransaction(t domain.Transaction) domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.transactions[t.ID] = t
	return t
}

func (s *Store) PutClosure(c domain.Closure) domain.Closure {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.closures[c.ID] = c
	return c
}

func (s *Store) PutReferral(r domain.Referral) domain.Referral {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = domain.ReferralPending
	}
	s.referrals[r.ID] = r
	return r
}

func (s *Store) PutBid(b domain.Bid) domain.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.bids[b.ID] = b
	return b
}

// Lead returns the stored lead; the zero value when missing.
func (s *Store) Lead(id uuid.UUID) domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leads[id]
}

func (s *Store) Installer(id uuid.UUID) domain.Installer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installers[id]
}

func (s *Store) Offer(id uuid.UUID) domain.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offers[id]
}

func (s *Store) Transaction(id uuid.UUID) domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions[id]
}

func (s *Store) Closure(id uuid.UUID) domain.Closure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closures[id]
}

func (s *Store) Referral(id uuid.UUID) domain.Referral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referrals[id]
}

func (s *Store) Bid(id uuid.UUID) domain.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bids[id]
}

// Leads returns every stored lead ordered by creation time.
func (s *Store) Leads() []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Offers returns every stored offer.
func (s *Store) Offers() []domain.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOffers(func(domain.Offer) bool { return true })
}

func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		out = append(out, t)
	}
	return out
}

func (s *Store) RefundRecords() []domain.RefundRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RefundRecord(nil), s.refunds...)
}

func (s *Store) Activities() []domain.AgentActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AgentActivity(nil), s.activities...)
}

// =============================================================================
// Leads
// =============================================================================

func (s *Store) GetLeadByID(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	return l, nil
}

func (s *Store) ListLeadsByStatus(_ context.Context, status domain.LeadStatus, limit int) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filterLeads(func(l domain.Lead) bool { return l.Status == status })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LeadContactExists(_ context.Context, email, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	phone = strings.TrimSpace(phone)
	for _, l := range s.leads {
		if email != "" && strings.ToLower(l.CustomerEmail) == email {
			return true, nil
		}
		if phone != "" && l.CustomerPhone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateLead(_ context.Context, lead domain.Lead) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLead(lead), nil
}

func (s *Store) insertLead(lead domain.Lead) domain.Lead {
	now := time.Now().UTC()
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
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	s.leads[lead.ID] = lead
	return lead
}

func (s *Store) TransitionLead(_ context.Context, id uuid.UUID, from, to domain.LeadStatus) error {
	if !from.CanTransition(to) {
		return apperr.Validation("lead cannot move from " + string(from) + " to " + string(to))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok || l.Status != from {
		return apperr.Conflict("lead is no longer " + string(from))
	}
	l.Status = to
	l.UpdatedAt = time.Now().UTC()
	s.leads[id] = l
	return nil
}

func (s *Store) ListResaleCandidates(_ context.Context, soldBefore time.Time) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLeads(func(l domain.Lead) bool {
		return l.Status == domain.LeadSold && !l.IsResold && l.OriginalSaleDate != nil && l.OriginalSaleDate.Before(soldBefore)
	}), nil
}

func (s *Store) ResellLead(_ context.Context, originalID uuid.UUID, clone domain.Lead) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orig, ok := s.leads[originalID]
	if !ok || orig.Status != domain.LeadSold || orig.IsResold {
		return domain.Lead{}, apperr.Conflict("lead already resold")
	}
	orig.IsResold = true
	s.leads[originalID] = orig
	return s.insertLead(clone), nil
}

func (s *Store) ListClosableAuctions(_ context.Context, now time.Time) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLeads(func(l domain.Lead) bool {
		return l.IsAuctionLead && l.Status == domain.LeadOffered && l.AuctionEndTime != nil && l.AuctionEndTime.Before(now)
	}), nil
}

func (s *Store) filterLeads(keep func(domain.Lead) bool) []domain.Lead {
	out := make([]domain.Lead, 0)
	for _, l := range s.leads {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// =============================================================================
// Installers
// =============================================================================

func (s *Store) GetInstallerByID(_ context.Context, id uuid.UUID) (domain.Installer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.installers[id]
	if !ok {
		return domain.Installer{}, apperr.NotFound("installer not found")
	}
	return i, nil
}

func (s *Store) ListActiveInstallers(_ context.Context) ([]domain.Installer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterInstallers(func(i domain.Installer) bool { return i.IsActive }), nil
}

func (s *Store) ListInstallersAwaitingReview(_ context.Context) ([]domain.Installer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterInstallers(func(i domain.Installer) bool {
		return i.IsActive && !i.IsVerified && i.ABN != nil && *i.ABN != ""
	}), nil
}

func (s *Store) UpdateInstallerFlags(_ context.Context, id uuid.UUID, active, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.installers[id]
	if !ok {
		return apperr.NotFound("installer not found")
	}
	i.IsActive = active
	i.IsVerified = verified
	s.installers[id] = i
	return nil
}

func (s *Store) filterInstallers(keep func(domain.Installer) bool) []domain.Installer {
	out := make([]domain.Installer, 0)
	for _, i := range s.installers {
		if keep(i) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// =============================================================================
// Offers
// =============================================================================

func (s *Store) GetOfferByID(_ context.Context, id uuid.UUID) (domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return domain.Offer{}, apperr.NotFound("offer not found")
	}
	return o, nil
}

func (s *Store) ListOffersByLead(_ context.Context, leadID uuid.UUID) ([]domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOffers(func(o domain.Offer) bool { return o.LeadID == leadID }), nil
}

func (s *Store) ListOffersByInstaller(_ context.Context, installerID uuid.UUID) ([]domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOffers(func(o domain.Offer) bool { return o.InstallerID == installerID }), nil
}

func (s *Store) ListExpiredOffers(_ context.Context, now time.Time) ([]domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOffers(func(o domain.Offer) bool {
		return o.Status == domain.OfferPending && o.ExpiresAt.Before(now)
	}), nil
}

func (s *Store) ListPendingOffers(_ context.Context) ([]domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOffers(func(o domain.Offer) bool { return o.Status == domain.OfferPending }), nil
}

func (s *Store) CountAcceptedOffersSince(_ context.Context, installerID uuid.UUID, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countAccepted(installerID, since), nil
}

func (s *Store) countAccepted(installerID uuid.UUID, since time.Time) int {
	n := 0
	for _, o := range s.offers {
		if o.InstallerID == installerID && o.Status == domain.OfferAccepted && !o.SentAt.Before(since) {
			n++
		}
	}
	return n
}

func (s *Store) ListUnclosedAcceptedOffers(_ context.Context, respondedBefore time.Time) ([]domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOffers(func(o domain.Offer) bool {
		if o.Status != domain.OfferAccepted || o.RespondedAt == nil || o.RespondedAt.After(respondedBefore) {
			return false
		}
		for _, c := range s.closures {
			if c.OfferID == o.ID {
				return false
			}
		}
		for _, r := range s.refunds {
			if r.OfferID == o.ID {
				return false
			}
		}
		for _, t := range s.transactions {
			if t.OfferID != nil && *t.OfferID == o.ID && t.Status == domain.TxRefunded {
				return false
			}
		}
		return true
	}), nil
}

func (s *Store) CreateOffer(_ context.Context, offer domain.Offer) (domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.LeadID == offer.LeadID && o.InstallerID == offer.InstallerID && o.Status != domain.OfferExpired {
			return domain.Offer{}, apperr.Conflict("installer already holds a live offer for this lead")
		}
	}
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	if offer.Status == "" {
		offer.Status = domain.OfferPending
	}
	offer.CreatedAt = time.Now().UTC()
	s.offers[offer.ID] = offer
	return offer, nil
}

func (s *Store) TransitionOffer(_ context.Context, id uuid.UUID, to domain.OfferStatus, respondedAt *time.Time) error {
	if !domain.OfferPending.CanTransition(to) {
		return apperr.Validation("offer can only move from pending to a terminal status")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok || o.Status != domain.OfferPending {
		return apperr.Conflict("offer is no longer pending")
	}
	if to == domain.OfferAccepted && s.hasAcceptedOffer(o.LeadID) {
		return apperr.Conflict("lead already has an accepted offer")
	}
	o.Status = to
	if respondedAt != nil {
		o.RespondedAt = respondedAt
	}
	s.offers[id] = o
	return nil
}

func (s *Store) AcceptOffer(_ context.Context, offerID uuid.UUID, respondedAt, monthStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return apperr.NotFound("offer not found")
	}
	inst, ok := s.installers[o.InstallerID]
	if !ok {
		return apperr.NotFound("installer not found")
	}
	if s.countAccepted(inst.ID, monthStart) >= inst.MaxLeadsPerMonth {
		return repository.ErrCapacityReached
	}
	if o.Status != domain.OfferPending {
		return apperr.Conflict("offer is no longer pending")
	}
	if s.hasAcceptedOffer(o.LeadID) {
		return apperr.Conflict("lead already has an accepted offer")
	}
	l, ok := s.leads[o.LeadID]
	if !ok || l.Status != domain.LeadOffered {
		return apperr.Conflict("lead is no longer offered")
	}
	o.Status = domain.OfferAccepted
	o.RespondedAt = &respondedAt
	s.offers[offerID] = o
	l.Status = domain.LeadAccepted
	l.UpdatedAt = time.Now().UTC()
	s.leads[l.ID] = l
	return nil
}

func (s *Store) ExpireSiblingOffers(_ context.Context, leadID, acceptedOfferID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, o := range s.offers {
		if o.LeadID == leadID && id != acceptedOfferID && o.Status == domain.OfferPending {
			o.Status = domain.OfferExpired
			s.offers[id] = o
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkOfferNotified(_ context.Context, id uuid.UUID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return apperr.NotFound("offer not found")
	}
	switch channel {
	case "email":
		o.EmailSent = true
	case "sms":
		o.SMSSent = true
	default:
		return apperr.Validation("unknown notification channel " + channel)
	}
	s.offers[id] = o
	return nil
}

func (s *Store) hasAcceptedOffer(leadID uuid.UUID) bool {
	for _, o := range s.offers {
		if o.LeadID == leadID && o.Status == domain.OfferAccepted {
			return true
		}
	}
	return false
}

func (s *Store) filterOffers(keep func(domain.Offer) bool) []domain.Offer {
	out := make([]domain.Offer, 0)
	for _, o := range s.offers {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// =============================================================================
// Transactions
// =============================================================================

func (s *Store) CreateTransaction(_ context.Context, t domain.Transaction) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.OfferID != nil {
		for _, existing := range s.transactions {
			if existing.OfferID != nil && *existing.OfferID == *t.OfferID {
				return domain.Transaction{}, apperr.Conflict("offer already has a transaction")
			}
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = domain.TxPending
	}
	if t.Currency == "" {
		t.Currency = "AUD"
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	s.transactions[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t domain.Transaction) error {
	if t.Status == domain.TxRefunded {
		return apperr.Validation("use the refund path to refund a transaction")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.transactions[t.ID]
	if !ok || existing.Status == domain.TxRefunded {
		return apperr.NotFound("transaction not found")
	}
	existing.Status = t.Status
	existing.ExternalPaymentRef = t.ExternalPaymentRef
	existing.FailureReason = t.FailureReason
	existing.PaidAt = t.PaidAt
	existing.UpdatedAt = time.Now().UTC()
	s.transactions[t.ID] = existing
	return nil
}

func (s *Store) GetTransactionByOfferID(_ context.Context, offerID uuid.UUID) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if (t.OfferID != nil && *t.OfferID == offerID) || t.Metadata.OfferID == offerID.String() {
			return t, nil
		}
	}
	return domain.Transaction{}, apperr.NotFound("transaction not found")
}

func (s *Store) ListTransactionsByInstaller(_ context.Context, installerID uuid.UUID) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, 0)
	for _, t := range s.transactions {
		if t.InstallerID == installerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) RecordSale(_ context.Context, t domain.Transaction, finalPrice int64, soldAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.transactions[t.ID]
	if !ok || (existing.Status != domain.TxPending && existing.Status != domain.TxProcessing) {
		return apperr.Conflict("transaction is no longer pending")
	}
	l, ok := s.leads[existing.LeadID]
	if !ok || l.Status != domain.LeadAccepted {
		return apperr.Conflict("lead is no longer accepted")
	}
	existing.Status = domain.TxSucceeded
	existing.ExternalPaymentRef = t.ExternalPaymentRef
	existing.FailureReason = nil
	existing.PaidAt = &soldAt
	existing.UpdatedAt = time.Now().UTC()
	s.transactions[t.ID] = existing
	l.Status = domain.LeadSold
	l.FinalPrice = &finalPrice
	l.OriginalSaleDate = &soldAt
	l.UpdatedAt = existing.UpdatedAt
	s.leads[l.ID] = l
	return nil
}

func (s *Store) MarkTransactionRefunded(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok || t.Status != domain.TxSucceeded {
		return apperr.Conflict("only succeeded transactions can be refunded")
	}
	t.Status = domain.TxRefunded
	s.transactions[id] = t
	return nil
}

// =============================================================================
// Revenue
// =============================================================================

func (s *Store) CreateClosure(_ context.Context, c domain.Closure) (domain.Closure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.closures {
		if existing.OfferID == c.OfferID {
			return domain.Closure{}, apperr.Conflict("offer already has a reported closure")
		}
	}
	c.ID = uuid.New()
	c.BonusPaid = false
	s.closures[c.ID] = c
	return c, nil
}

func (s *Store) ListUnpaidClosures(_ context.Context) ([]domain.Closure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Closure, 0)
	for _, c := range s.closures {
		if !c.BonusPaid {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out, nil
}

func (s *Store) MarkBonusPaid(_ context.Context, closureID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.closures[closureID]
	if !ok || c.BonusPaid {
		return apperr.Conflict("bonus already paid")
	}
	c.BonusPaid = true
	s.closures[closureID] = c
	return nil
}

func (s *Store) ListBids(_ context.Context, leadID uuid.UUID) ([]domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Bid, 0)
	for _, b := range s.bids {
		if b.LeadID == leadID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BidAmount != out[j].BidAmount {
			return out[i].BidAmount > out[j].BidAmount
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) CloseAuction(_ context.Context, leadID, bidID uuid.UUID, finalPrice int64, soldAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || !l.IsAuctionLead || l.Status != domain.LeadOffered {
		return apperr.Conflict("auction lead is no longer open")
	}
	b, ok := s.bids[bidID]
	if !ok || b.LeadID != leadID {
		return apperr.NotFound("bid not found")
	}
	b.IsWinningBid = true
	s.bids[bidID] = b
	l.Status = domain.LeadSold
	l.FinalPrice = &finalPrice
	l.OriginalSaleDate = &soldAt
	s.leads[leadID] = l
	return nil
}

func (s *Store) ListPendingReferrals(_ context.Context) ([]domain.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Referral, 0)
	for _, r := range s.referrals {
		if r.Status == domain.ReferralPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkReferralPaid(_ context.Context, id uuid.UUID, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.referrals[id]
	if !ok || r.Status != domain.ReferralPending {
		return apperr.Conflict("referral already paid")
	}
	r.Status = domain.ReferralPaid
	r.PaidAt = &paidAt
	s.referrals[id] = r
	return nil
}

// =============================================================================
// Refunds and telemetry
// =============================================================================

func (s *Store) CreateRefundRecord(_ context.Context, rec domain.RefundRecord) (domain.RefundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	s.refunds = append(s.refunds, rec)
	return rec, nil
}

func (s *Store) ListRefundRecordsByOffer(_ context.Context, offerID uuid.UUID) ([]domain.RefundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RefundRecord, 0)
	for _, r := range s.refunds {
		if r.OfferID == offerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) CreateAgentActivity(_ context.Context, a domain.AgentActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.activities = append(s.activities, a)
	return nil
}
