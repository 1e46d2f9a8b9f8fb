// Package refunds adjudicates installer refund requests for purchased leads.
package refunds

import (
	"context"
	"fmt"
	"time"

	"solar_leads_backend/internal/activity"
	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/payments"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	// MinNoResponseAttempts is the contact attempts a no_response claim needs.
	MinNoResponseAttempts = 3
	// MinNoResponseDays is how long after purchase a no_response claim may be made.
	MinNoResponseDays = 5

	day = 24 * time.Hour
)

// Decision reasons shown to installers.
const (
	ReasonOfferNotFound    = "Offer not found"
	ReasonNotAccepted      = "Can only refund accepted offers"
	ReasonAlreadyRefunded  = "Already refunded"
	ReasonNotResponded     = "Offer not yet responded to"
	ReasonNoTransaction    = "No transaction found for this offer"
	ReasonNotCharged       = "Lead purchase was never charged"
	ReasonWrongInstaller   = "Offer belongs to another installer"
	ReasonTooFewAttempts   = "Must attempt contact at least 3 times before requesting refund"
	ReasonTooEarly         = "Must wait at least 5 days and attempt 3 contacts before refund"
	ReasonNoResponse       = "No response after 3 attempts"
	ReasonInvalidPhone     = "Invalid phone number"
	ReasonNeverInquired    = "Lead never inquired about solar"
	ReasonDuplicate        = "Duplicate lead"
	ReasonManualReview     = "Manual review required for 'other' reason"
	ReasonInvalidReason    = "Invalid refund reason"
	ReasonEligible         = "Eligible for refund"
	reasonWindowExpiredFmt = "Refund window expired (%d days)"
)

// Repository is the persistence the adjudicator needs.
type Repository interface {
	repository.OfferReader
	repository.TransactionStore
	repository.RefundStore
}

// Request is one refund claim.
type Request struct {
	OfferID         uuid.UUID
	InstallerID     *uuid.UUID
	Reason          domain.RefundReason
	ContactAttempts int
	EvidenceKey     *string
	Automated       bool
}

// Validation is the outcome of the rule checks alone.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// Result is the outcome of processing a request.
type Result struct {
	Approved      bool       `json:"approved"`
	Reason        string     `json:"reason"`
	RefundAmount  int64      `json:"refundAmount"`
	TransactionID *uuid.UUID `json:"transactionId,omitempty"`
	RecordID      uuid.UUID  `json:"recordId"`
	ProcessedAt   time.Time  `json:"processedAt"`
}

// Eligibility is the read-only view used by installer dashboards.
type Eligibility struct {
	Eligible          bool   `json:"eligible"`
	Reason            string `json:"reason"`
	DaysSinceAccepted int    `json:"daysSinceAccepted"`
	DaysRemaining     int    `json:"daysRemaining"`
}

// Service is the refund adjudicator.
type Service struct {
	repo     Repository
	gateway  payments.Gateway
	eventBus events.Bus
	recorder *activity.Recorder
	cfg      config.RefundPolicyConfig
	log      *logger.Logger
	now      func() time.Time
}

// New creates the adjudicator. gateway may be nil; approved refunds then only
// move the transaction to refunded.
func New(repo Repository, gateway payments.Gateway, eventBus events.Bus, recorder *activity.Recorder, cfg config.RefundPolicyConfig, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		eventBus: eventBus,
		recorder: recorder,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// precheck runs the ordered eligibility preconditions shared by Validate and
// Eligibility. A non-empty reason means the offer is not refundable.
func (s *Service) precheck(ctx context.Context, offerID uuid.UUID) (domain.Offer, int, string, error) {
	offer, err := s.repo.GetOfferByID(ctx, offerID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return domain.Offer{}, 0, ReasonOfferNotFound, nil
		}
		return domain.Offer{}, 0, "", err
	}
	if offer.Status != domain.OfferAccepted {
		return offer, 0, ReasonNotAccepted, nil
	}

	if reason, err := s.purchaseReason(ctx, offer.ID); err != nil || reason != "" {
		return offer, 0, reason, err
	}

	if offer.RespondedAt == nil {
		return offer, 0, ReasonNotResponded, nil
	}

	days := daysBetween(*offer.RespondedAt, s.now())
	if days > s.window() {
		return offer, days, fmt.Sprintf(reasonWindowExpiredFmt, s.window()), nil
	}
	return offer, days, "", nil
}

// purchaseReason rejects offers whose purchase is already refunded or was never
// charged. A missing transaction is left to Process.
func (s *Service) purchaseReason(ctx context.Context, offerID uuid.UUID) (string, error) {
	tx, err := s.repo.GetTransactionByOfferID(ctx, offerID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load transaction: %w", err)
	}
	switch tx.Status {
	case domain.TxRefunded:
		return ReasonAlreadyRefunded, nil
	case domain.TxSucceeded:
		return "", nil
	default:
		return ReasonNotCharged, nil
	}
}

func (s *Service) window() int {
	if w := s.cfg.GetRefundWindowDays(); w > 0 {
		return w
	}
	return 30
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / day)
}

// Validate checks a request against the preconditions and the reason rules.
// Rejections are values; only store failures are errors.
func (s *Service) Validate(ctx context.Context, req Request) (Validation, error) {
	offer, days, reason, err := s.precheck(ctx, req.OfferID)
	if err != nil {
		return Validation{}, err
	}
	if reason != "" {
		return Validation{Valid: false, Reason: reason}, nil
	}
	if req.InstallerID != nil && *req.InstallerID != offer.InstallerID {
		return Validation{Valid: false, Reason: ReasonWrongInstaller}, nil
	}
	return judgeReason(req, days), nil
}

func judgeReason(req Request, daysSinceAccepted int) Validation {
	switch req.Reason {
	case domain.RefundNoResponse:
		if req.ContactAttempts < MinNoResponseAttempts {
			return Validation{Valid: false, Reason: ReasonTooFewAttempts}
		}
		if daysSinceAccepted < MinNoResponseDays {
			return Validation{Valid: false, Reason: ReasonTooEarly}
		}
		return Validation{Valid: true, Reason: ReasonNoResponse}
	case domain.RefundInvalidPhone:
		return Validation{Valid: true, Reason: ReasonInvalidPhone}
	case domain.RefundNeverInquired:
		return Validation{Valid: true, Reason: ReasonNeverInquired}
	case domain.RefundDuplicate:
		return Validation{Valid: true, Reason: ReasonDuplicate}
	case domain.RefundOther:
		return Validation{Valid: false, Reason: ReasonManualReview}
	default:
		return Validation{Valid: false, Reason: ReasonInvalidReason}
	}
}

// Process adjudicates a request and, when approved, refunds the offer's
// transaction. Every decision is persisted, recorded and published.
func (s *Service) Process(ctx context.Context, req Request) (Result, error) {
	started := s.now()

	validation, err := s.Validate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if !validation.Valid {
		return s.decide(ctx, req, started, Result{Approved: false, Reason: validation.Reason}, nil)
	}

	offer, err := s.repo.GetOfferByID(ctx, req.OfferID)
	if err != nil {
		return Result{}, fmt.Errorf("load offer: %w", err)
	}

	tx, err := s.repo.GetTransactionByOfferID(ctx, offer.ID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return s.decide(ctx, req, started, Result{Approved: false, Reason: ReasonNoTransaction}, nil)
		}
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}

	if refundErr := s.refund(ctx, tx); refundErr != nil {
		s.log.Error("refund failed", "offerId", offer.ID, "transactionId", tx.ID, "error", refundErr)
		res := Result{Approved: false, Reason: fmt.Sprintf("Error processing refund: %v", refundErr)}
		return s.decide(ctx, req, started, res, refundErr)
	}

	txID := tx.ID
	res := Result{
		Approved:      true,
		Reason:        validation.Reason,
		RefundAmount:  offer.OfferPrice,
		TransactionID: &txID,
	}
	return s.decide(ctx, req, started, res, nil)
}

func (s *Service) refund(ctx context.Context, tx domain.Transaction) error {
	if tx.Status != domain.TxSucceeded {
		return apperr.Conflict(fmt.Sprintf("transaction is %s", tx.Status))
	}
	if s.gateway != nil && tx.ExternalPaymentRef != nil {
		if err := s.gateway.Refund(ctx, *tx.ExternalPaymentRef); err != nil {
			return err
		}
	}
	return s.repo.MarkTransactionRefunded(ctx, tx.ID)
}

// decide persists the outcome, records telemetry and publishes the event.
func (s *Service) decide(ctx context.Context, req Request, started time.Time, res Result, failure error) (Result, error) {
	res.ProcessedAt = s.now()

	rec, err := s.repo.CreateRefundRecord(ctx, domain.RefundRecord{
		OfferID:         req.OfferID,
		InstallerID:     req.InstallerID,
		Reason:          req.Reason,
		ContactAttempts: req.ContactAttempts,
		EvidenceKey:     req.EvidenceKey,
		Approved:        res.Approved,
		DecisionReason:  res.Reason,
		RefundAmount:    res.RefundAmount,
		Automated:       req.Automated,
		ProcessedAt:     res.ProcessedAt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("persist refund decision: %w", err)
	}
	res.RecordID = rec.ID

	outcome := "rejected"
	if res.Approved {
		outcome = "approved"
	}
	s.recorder.Record(ctx, activity.Entry{
		Type:        activity.TypeRefundDecision,
		Description: fmt.Sprintf("Refund %s for offer %s: %s", outcome, req.OfferID, res.Reason),
		StartedAt:   started,
		Err:         failure,
		Metadata: map[string]any{
			"offerId":      req.OfferID.String(),
			"reason":       string(req.Reason),
			"approved":     res.Approved,
			"refundAmount": res.RefundAmount,
			"automated":    req.Automated,
		},
	})

	s.eventBus.Publish(ctx, events.RefundDecided{
		BaseEvent:    events.NewBaseEvent(),
		OfferID:      req.OfferID,
		InstallerID:  req.InstallerID,
		Reason:       string(req.Reason),
		Approved:     res.Approved,
		Decision:     res.Reason,
		RefundAmount: res.RefundAmount,
		Automated:    req.Automated,
	})

	s.log.Info("refund decided", "offerId", req.OfferID, "approved", res.Approved, "reason", res.Reason)
	return res, nil
}

// Eligibility reports whether an offer can still be refunded and how many
// days remain. It never mutates state.
func (s *Service) Eligibility(ctx context.Context, offerID uuid.UUID) (Eligibility, error) {
	_, days, reason, err := s.precheck(ctx, offerID)
	if err != nil {
		return Eligibility{}, err
	}
	out := Eligibility{DaysSinceAccepted: days}
	if reason != "" {
		out.Reason = reason
		return out, nil
	}
	out.Eligible = true
	out.Reason = ReasonEligible
	out.DaysRemaining = max(0, s.window()-days)
	return out, nil
}

// SweepResult tallies one batch run.
type SweepResult struct {
	Processed int `json:"processed"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// ProcessBatch submits every accepted, unclosed offer older than the sweep
// age as a no_response claim with an assumed number of contact attempts.
func (s *Service) ProcessBatch(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	if !s.cfg.GetRefundSweepEnabled() {
		return result, nil
	}

	minAge := time.Duration(s.cfg.GetRefundSweepMinAgeDays()) * day
	candidates, err := s.repo.ListUnclosedAcceptedOffers(ctx, s.now().Add(-minAge))
	if err != nil {
		return result, fmt.Errorf("list refund candidates: %w", err)
	}

	attempts := s.cfg.GetRefundSweepAssumedAttempts()
	if len(candidates) > 0 {
		s.log.Warn("refund sweep assumes contact attempts",
			"assumption", true,
			"contactAttempts", attempts,
			"candidates", len(candidates),
		)
	}

	for _, offer := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		installerID := offer.InstallerID
		res, err := s.Process(ctx, Request{
			OfferID:         offer.ID,
			InstallerID:     &installerID,
			Reason:          domain.RefundNoResponse,
			ContactAttempts: attempts,
			Automated:       true,
		})
		if err != nil {
			result.Failed++
			s.log.Error("refund sweep failed", "offerId", offer.ID, "error", err)
			continue
		}
		result.Processed++
		if res.Approved {
			result.Approved++
		} else {
			result.Rejected++
		}
	}

	s.log.Info("refund sweep complete",
		"processed", result.Processed,
		"approved", result.Approved,
		"rejected", result.Rejected,
		"failed", result.Failed,
	)
	return result, nil
}

// History lists every decision taken for an offer.
func (s *Service) History(ctx context.Context, offerID uuid.UUID) ([]domain.RefundRecord, error) {
	records, err := s.repo.ListRefundRecordsByOffer(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("list refund records: %w", err)
	}
	return records, nil
}
