// Package offers runs the offer lifecycle: expiry sweeps with re-offering,
// auto-acceptance and manual installer responses.
package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/matching"
	"solar_leads_backend/internal/payments"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

// Repository is the persistence the lifecycle manager needs.
type Repository interface {
	repository.LeadReader
	repository.LeadWriter
	repository.InstallerReader
	repository.OfferReader
	repository.OfferWriter
	repository.TransactionStore
	repository.ClosureStore
}

// Failure reasons recorded on purchase transactions that were never sent to the processor.
const (
	ReasonNoProcessor     = "no payment processor configured"
	ReasonNoPaymentMethod = "installer has no payment method on file"
)

// Config is the offer lifecycle settings plus the bonus stamped on reported closures.
type Config interface {
	config.OfferConfig
	GetPerformanceBonusCents() int64
}

// Matcher re-offers a lead whose offers lapsed.
type Matcher interface {
	CreateOffersForLead(ctx context.Context, lead domain.Lead) (int, error)
}

// Service is the offer lifecycle manager.
type Service struct {
	repo     Repository
	matcher  Matcher
	gateway  payments.Gateway
	eventBus events.Bus
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// New creates the lifecycle manager. gateway may be nil, in which case the
// purchase transaction of an accepted offer is recorded as failed.
func New(repo Repository, matcher Matcher, gateway payments.Gateway, eventBus events.Bus, cfg Config, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		matcher:  matcher,
		gateway:  gateway,
		eventBus: eventBus,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SweepResult tallies one HandleExpiredOffers run.
type SweepResult struct {
	OffersExpired  int `json:"offersExpired"`
	LeadsReoffered int `json:"leadsReoffered"`
	LeadsExpired   int `json:"leadsExpired"`
	Failed         int `json:"failed"`
}

// HandleExpiredOffers expires every overdue pending offer first, then decides the
// fate of each affected lead: leave it (already accepted), expire it, or re-offer.
func (s *Service) HandleExpiredOffers(ctx context.Context) (SweepResult, error) {
	now := s.now()
	overdue, err := s.repo.ListExpiredOffers(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired offers: %w", err)
	}

	var res SweepResult
	leadIDs := make([]uuid.UUID, 0, len(overdue))
	seen := make(map[uuid.UUID]bool, len(overdue))
	for _, o := range overdue {
		err := s.repo.TransitionOffer(ctx, o.ID, domain.OfferExpired, nil)
		if apperr.Is(err, apperr.KindConflict) {
			continue
		}
		if err != nil {
			res.Failed++
			s.log.Error("expire offer failed", "offerId", o.ID, "error", err)
			continue
		}
		res.OffersExpired++
		s.eventBus.Publish(ctx, events.OfferExpired{
			BaseEvent:   events.NewBaseEvent(),
			OfferID:     o.ID,
			LeadID:      o.LeadID,
			InstallerID: o.InstallerID,
		})
		if !seen[o.LeadID] {
			seen[o.LeadID] = true
			leadIDs = append(leadIDs, o.LeadID)
		}
	}

	for _, leadID := range leadIDs {
		outcome, err := s.resolveLapsedLead(ctx, leadID, now)
		if err != nil {
			res.Failed++
			s.log.Error("resolve lapsed lead failed", "leadId", leadID, "error", err)
			continue
		}
		switch outcome {
		case outcomeReoffered:
			res.LeadsReoffered++
		case outcomeExpired:
			res.LeadsExpired++
		}
	}

	s.log.Info("handled expired offers",
		"offersExpired", res.OffersExpired,
		"leadsReoffered", res.LeadsReoffered,
		"leadsExpired", res.LeadsExpired,
		"failed", res.Failed,
	)
	return res, nil
}

type lapseOutcome int

const (
	outcomeNone lapseOutcome = iota
	outcomeReoffered
	outcomeExpired
)

func (s *Service) resolveLapsedLead(ctx context.Context, leadID uuid.UUID, now time.Time) (lapseOutcome, error) {
	lead, err := s.repo.GetLeadByID(ctx, leadID)
	if err != nil {
		return outcomeNone, err
	}
	if lead.Status != domain.LeadOffered {
		return outcomeNone, nil
	}

	siblings, err := s.repo.ListOffersByLead(ctx, leadID)
	if err != nil {
		return outcomeNone, err
	}
	stillPending := false
	for _, o := range siblings {
		if o.Status == domain.OfferAccepted {
			return outcomeNone, nil
		}
		if o.Status == domain.OfferPending {
			stillPending = true
		}
	}

	if lead.ExpiresAt != nil && now.After(*lead.ExpiresAt) {
		return s.expireLead(ctx, lead, "lead expired")
	}

	created, err := s.matcher.CreateOffersForLead(ctx, lead)
	if err != nil {
		return outcomeNone, err
	}
	if created > 0 {
		return outcomeReoffered, nil
	}
	if stillPending {
		return outcomeNone, nil
	}
	return s.expireLead(ctx, lead, "no installers left to offer")
}

func (s *Service) expireLead(ctx context.Context, lead domain.Lead, reason string) (lapseOutcome, error) {
	err := s.repo.TransitionLead(ctx, lead.ID, domain.LeadOffered, domain.LeadExpired)
	if apperr.Is(err, apperr.KindConflict) {
		return outcomeNone, nil
	}
	if err != nil {
		return outcomeNone, err
	}
	s.eventBus.Publish(ctx, events.LeadExpired{BaseEvent: events.NewBaseEvent(), LeadID: lead.ID, Reason: reason})
	return outcomeExpired, nil
}

// ProcessAutoAcceptOffers accepts pending offers held by auto-accepting installers.
// The lead compare-and-set makes the first such offer per lead the only winner.
func (s *Service) ProcessAutoAcceptOffers(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPendingOffers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending offers: %w", err)
	}

	installers := make(map[uuid.UUID]*domain.Installer)
	accepted := 0
	for _, o := range pending {
		inst, ok := installers[o.InstallerID]
		if !ok {
			loaded, err := s.repo.GetInstallerByID(ctx, o.InstallerID)
			if err != nil {
				s.log.Error("load installer failed", "installerId", o.InstallerID, "offerId", o.ID, "error", err)
				installers[o.InstallerID] = nil
				continue
			}
			inst = &loaded
			installers[o.InstallerID] = inst
		}
		if inst == nil || !inst.AutoAcceptLeads {
			continue
		}

		lead, err := s.repo.GetLeadByID(ctx, o.LeadID)
		if err != nil {
			s.log.Error("load lead failed", "leadId", o.LeadID, "offerId", o.ID, "error", err)
			continue
		}
		if lead.Status != domain.LeadOffered {
			continue
		}

		if err := s.accept(ctx, o, *inst, true); err != nil {
			if !apperr.Is(err, apperr.KindConflict) {
				s.log.Error("auto-accept failed", "offerId", o.ID, "error", err)
			}
			continue
		}
		accepted++
		s.log.Info("auto-accepted offer", "offerId", o.ID, "installerId", inst.ID, "leadId", o.LeadID)
	}
	return accepted, nil
}

// RespondToOffer records an installer's manual accept or reject.
func (s *Service) RespondToOffer(ctx context.Context, offerID, installerID uuid.UUID, accept bool) (domain.Offer, error) {
	offer, err := s.repo.GetOfferByID(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}
	if offer.InstallerID != installerID {
		return domain.Offer{}, apperr.NotFound("offer not found")
	}
	if offer.Status != domain.OfferPending {
		return domain.Offer{}, apperr.Conflict("offer is already " + string(offer.Status))
	}
	now := s.now().UTC()
	if now.After(offer.ExpiresAt) {
		return domain.Offer{}, apperr.Gone("offer has expired")
	}

	if !accept {
		if err := s.repo.TransitionOffer(ctx, offer.ID, domain.OfferRejected, &now); err != nil {
			return domain.Offer{}, err
		}
		s.eventBus.Publish(ctx, events.OfferRejected{
			BaseEvent:   events.NewBaseEvent(),
			OfferID:     offer.ID,
			LeadID:      offer.LeadID,
			InstallerID: offer.InstallerID,
		})
		return s.repo.GetOfferByID(ctx, offer.ID)
	}

	inst, err := s.repo.GetInstallerByID(ctx, installerID)
	if err != nil {
		return domain.Offer{}, err
	}
	if err := s.accept(ctx, offer, inst, false); err != nil {
		return domain.Offer{}, err
	}
	return s.repo.GetOfferByID(ctx, offer.ID)
}

// ListInstallerOffers returns the offers sent to an installer, newest first.
func (s *Service) ListInstallerOffers(ctx context.Context, installerID uuid.UUID) ([]domain.Offer, error) {
	if _, err := s.repo.GetInstallerByID(ctx, installerID); err != nil {
		return nil, err
	}
	return s.repo.ListOffersByInstaller(ctx, installerID)
}

// accept claims the lead and the offer together. The repository enforces the
// monthly cap under a lock on the installer row.
func (s *Service) accept(ctx context.Context, offer domain.Offer, inst domain.Installer, auto bool) error {
	now := s.now().UTC()
	if err := s.repo.AcceptOffer(ctx, offer.ID, now, matching.MonthStart(s.now())); err != nil {
		return err
	}

	s.eventBus.Publish(ctx, events.OfferAccepted{
		BaseEvent:    events.NewBaseEvent(),
		OfferID:      offer.ID,
		LeadID:       offer.LeadID,
		InstallerID:  inst.ID,
		Price:        offer.OfferPrice,
		AutoAccepted: auto,
	})

	if s.cfg.GetCancelSiblingOffers() {
		n, err := s.repo.ExpireSiblingOffers(ctx, offer.LeadID, offer.ID)
		if err != nil {
			s.log.Error("expire sibling offers failed", "leadId", offer.LeadID, "error", err)
		} else if n > 0 {
			s.log.Info("expired sibling offers", "leadId", offer.LeadID, "count", n)
		}
	}

	if err := s.charge(ctx, offer, inst); err != nil {
		s.log.Error("charge accepted offer failed", "offerId", offer.ID, "installerId", inst.ID, "error", err)
	}
	return nil
}

// charge records the purchase. A settled charge sells the lead; any other
// outcome leaves the acceptance in place with a failed transaction.
func (s *Service) charge(ctx context.Context, offer domain.Offer, inst domain.Installer) error {
	offerID := offer.ID
	tx, err := s.repo.CreateTransaction(ctx, domain.Transaction{
		LeadID:      offer.LeadID,
		InstallerID: inst.ID,
		OfferID:     &offerID,
		AmountCents: offer.OfferPrice * 100,
		Currency:    "AUD",
		Status:      domain.TxPending,
		Metadata:    domain.TransactionMetadata{OfferID: offer.ID.String(), Kind: "lead_purchase"},
	})
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	switch {
	case s.gateway == nil:
		return s.failCharge(ctx, tx, ReasonNoProcessor)
	case inst.StripeCustomerID == nil || *inst.StripeCustomerID == "":
		return s.failCharge(ctx, tx, ReasonNoPaymentMethod)
	}

	ref, chargeErr := s.gateway.Charge(ctx, tx.AmountCents, *inst.StripeCustomerID, "offer-"+offer.ID.String())
	if ref != "" {
		tx.ExternalPaymentRef = &ref
	}
	if chargeErr != nil {
		if !errors.Is(chargeErr, payments.ErrDeclined) {
			s.log.Warn("payment gateway error", "offerId", offer.ID, "error", chargeErr)
		}
		return s.failCharge(ctx, tx, chargeErr.Error())
	}

	soldAt := s.now().UTC()
	if err := s.repo.RecordSale(ctx, tx, offer.OfferPrice, soldAt); err != nil {
		return fmt.Errorf("record sale: %w", err)
	}
	s.eventBus.Publish(ctx, events.LeadSold{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        offer.LeadID,
		OfferID:       offer.ID,
		InstallerID:   inst.ID,
		FinalPrice:    offer.OfferPrice,
		TransactionID: tx.ID,
	})
	return nil
}

func (s *Service) failCharge(ctx context.Context, tx domain.Transaction, reason string) error {
	tx.Status = domain.TxFailed
	tx.FailureReason = &reason
	if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	s.log.Warn("lead purchase not charged", "transactionId", tx.ID, "installerId", tx.InstallerID, "reason", reason)
	return nil
}

// ReportClosure records that the installer signed a contract with the lead
// behind one of their accepted, paid offers. The revenue sweep pays the
// performance bonus later.
func (s *Service) ReportClosure(ctx context.Context, offerID, installerID uuid.UUID, contractValue int64) (domain.Closure, error) {
	offer, err := s.repo.GetOfferByID(ctx, offerID)
	if err != nil {
		return domain.Closure{}, err
	}
	if offer.InstallerID != installerID {
		return domain.Closure{}, apperr.NotFound("offer not found")
	}
	if offer.Status != domain.OfferAccepted {
		return domain.Closure{}, apperr.Conflict("only accepted offers can be closed")
	}
	tx, err := s.repo.GetTransactionByOfferID(ctx, offer.ID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return domain.Closure{}, err
	}
	if err != nil || tx.Status != domain.TxSucceeded {
		return domain.Closure{}, apperr.Conflict("lead purchase has not been paid")
	}

	closure, err := s.repo.CreateClosure(ctx, domain.Closure{
		OfferID:               offer.ID,
		LeadID:                offer.LeadID,
		InstallerID:           installerID,
		ContractValue:         contractValue,
		PerformanceBonusCents: s.cfg.GetPerformanceBonusCents(),
		ClosedAt:              s.now().UTC(),
	})
	if err != nil {
		return domain.Closure{}, err
	}

	s.log.Info("closure reported", "offerId", offer.ID, "installerId", installerID, "contractValue", contractValue)
	s.eventBus.Publish(ctx, events.LeadClosed{
		BaseEvent:     events.NewBaseEvent(),
		ClosureID:     closure.ID,
		LeadID:        offer.LeadID,
		OfferID:       offer.ID,
		InstallerID:   installerID,
		ContractValue: contractValue,
	})
	return closure, nil
}
