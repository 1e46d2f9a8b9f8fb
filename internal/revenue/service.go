// Package revenue runs the payout and resale sweep of each reconciliation
// cycle: lead resale, performance bonuses, auction closing, referral
// commissions and the automated refund sweep.
package revenue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/pricing"
	"solar_leads_backend/internal/refunds"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

// ResaleAge is how long after its sale a lead becomes eligible for resale.
const ResaleAge = 30 * 24 * time.Hour

// Repository is the persistence the sweep needs.
type Repository interface {
	repository.RevenueStore
	repository.TransactionStore
}

// RefundSweeper runs the automated refund batch.
type RefundSweeper interface {
	ProcessBatch(ctx context.Context) (refunds.SweepResult, error)
}

// Config is the subset of configuration the sweep reads.
type Config interface {
	config.PayoutConfig
	GetLeadTTL() time.Duration
}

// Result tallies one sweep.
type Result struct {
	Resold         int                 `json:"resold"`
	BonusesPaid    int                 `json:"bonusesPaid"`
	AuctionsClosed int                 `json:"auctionsClosed"`
	ReferralsPaid  int                 `json:"referralsPaid"`
	Refunds        refunds.SweepResult `json:"refunds"`
	Failed         int                 `json:"failed"`
}

// Service is the revenue sweep.
type Service struct {
	repo     Repository
	refunds  RefundSweeper
	eventBus events.Bus
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// New creates the sweep. sweeper may be nil to skip automated refunds.
func New(repo Repository, sweeper RefundSweeper, eventBus events.Bus, cfg Config, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		refunds:  sweeper,
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

// Run executes every strategy in order. A failing strategy is logged and
// counted; the rest still run.
func (s *Service) Run(ctx context.Context) Result {
	var res Result
	var err error

	if res.Resold, err = s.ResellLeads(ctx); err != nil {
		res.Failed++
		s.log.Error("lead resale failed", "error", err)
	}
	if res.BonusesPaid, err = s.PayPerformanceBonuses(ctx); err != nil {
		res.Failed++
		s.log.Error("performance bonus payout failed", "error", err)
	}
	if res.AuctionsClosed, err = s.CloseAuctions(ctx); err != nil {
		res.Failed++
		s.log.Error("auction closing failed", "error", err)
	}
	if res.ReferralsPaid, err = s.PayReferrals(ctx); err != nil {
		res.Failed++
		s.log.Error("referral payout failed", "error", err)
	}
	if s.refunds != nil {
		if res.Refunds, err = s.refunds.ProcessBatch(ctx); err != nil {
			res.Failed++
			s.log.Error("refund sweep failed", "error", err)
		}
	}

	s.log.Info("revenue sweep complete",
		"resold", res.Resold,
		"bonusesPaid", res.BonusesPaid,
		"auctionsClosed", res.AuctionsClosed,
		"referralsPaid", res.ReferralsPaid,
		"refundsApproved", res.Refunds.Approved,
		"failed", res.Failed,
	)
	return res
}

// ResellLeads relists leads sold more than 30 days ago at half price.
func (s *Service) ResellLeads(ctx context.Context) (int, error) {
	now := s.now().UTC()
	candidates, err := s.repo.ListResaleCandidates(ctx, now.Add(-ResaleAge))
	if err != nil {
		return 0, fmt.Errorf("list resale candidates: %w", err)
	}

	resold := 0
	for _, lead := range candidates {
		clone := resaleClone(lead, now, s.cfg.GetLeadTTL())
		created, err := s.repo.ResellLead(ctx, lead.ID, clone)
		if err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				continue
			}
			s.log.Error("resell lead failed", "leadId", lead.ID, "error", err)
			continue
		}
		resold++
		s.eventBus.Publish(ctx, events.LeadResold{
			BaseEvent:      events.NewBaseEvent(),
			OriginalLeadID: lead.ID,
			NewLeadID:      created.ID,
			Price:          created.BasePrice,
		})
	}
	return resold, nil
}

func resaleClone(lead domain.Lead, now time.Time, ttl time.Duration) domain.Lead {
	price := pricing.ResalePrice(lead.BasePrice)
	expires := now.Add(ttl)

	clone := lead
	clone.ID = uuid.Nil
	clone.Status = domain.LeadNew
	clone.IsResold = true
	clone.ResaleCount = lead.ResaleCount + 1
	clone.BasePrice = price
	clone.FinalPrice = &price
	clone.OriginalSaleDate = nil
	clone.IsAuctionLead = false
	clone.AuctionStartPrice = nil
	clone.AuctionEndTime = nil
	clone.ExpiresAt = &expires
	clone.CreatedAt = now
	clone.UpdatedAt = now
	return clone
}

// PayPerformanceBonuses releases every unpaid closure bonus.
func (s *Service) PayPerformanceBonuses(ctx context.Context) (int, error) {
	closures, err := s.repo.ListUnpaidClosures(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unpaid closures: %w", err)
	}

	paid := 0
	for _, c := range closures {
		if err := s.repo.MarkBonusPaid(ctx, c.ID); err != nil {
			if !apperr.Is(err, apperr.KindConflict) {
				s.log.Error("mark bonus paid failed", "closureId", c.ID, "error", err)
			}
			continue
		}
		amount := c.PerformanceBonusCents
		if amount == 0 {
			amount = s.cfg.GetPerformanceBonusCents()
		}
		paid++
		s.eventBus.Publish(ctx, events.BonusPaid{
			BaseEvent:   events.NewBaseEvent(),
			ClosureID:   c.ID,
			InstallerID: c.InstallerID,
			AmountCents: amount,
		})
	}
	return paid, nil
}

// CloseAuctions sells every ended auction lead to its highest bid. Equal
// bids go to the earliest, then to the lowest id.
func (s *Service) CloseAuctions(ctx context.Context) (int, error) {
	now := s.now().UTC()
	ended, err := s.repo.ListClosableAuctions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list closable auctions: %w", err)
	}

	closed := 0
	for _, lead := range ended {
		bids, err := s.repo.ListBids(ctx, lead.ID)
		if err != nil {
			s.log.Error("list bids failed", "leadId", lead.ID, "error", err)
			continue
		}
		winner, ok := WinningBid(bids)
		if !ok {
			s.log.Info("auction ended without bids", "leadId", lead.ID)
			continue
		}
		if err := s.repo.CloseAuction(ctx, lead.ID, winner.ID, winner.BidAmount, now); err != nil {
			if !apperr.Is(err, apperr.KindConflict) {
				s.log.Error("close auction failed", "leadId", lead.ID, "error", err)
			}
			continue
		}
		closed++
		s.eventBus.Publish(ctx, events.AuctionClosed{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      lead.ID,
			BidID:       winner.ID,
			InstallerID: winner.InstallerID,
			FinalPrice:  winner.BidAmount,
		})
	}
	return closed, nil
}

// WinningBid picks the highest bid; ties go to the earliest, then the lowest id.
func WinningBid(bids []domain.Bid) (domain.Bid, bool) {
	if len(bids) == 0 {
		return domain.Bid{}, false
	}
	ordered := append([]domain.Bid(nil), bids...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.BidAmount != b.BidAmount {
			return a.BidAmount > b.BidAmount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return ordered[0], true
}

// PayReferrals pays every pending referral whose referred installer has
// completed a purchase.
func (s *Service) PayReferrals(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPendingReferrals(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending referrals: %w", err)
	}

	now := s.now().UTC()
	paid := 0
	for _, r := range pending {
		purchased, err := s.hasPurchase(ctx, r)
		if err != nil {
			s.log.Error("check referral purchase failed", "referralId", r.ID, "error", err)
			continue
		}
		if !purchased {
			continue
		}
		if err := s.repo.MarkReferralPaid(ctx, r.ID, now); err != nil {
			if !apperr.Is(err, apperr.KindConflict) {
				s.log.Error("mark referral paid failed", "referralId", r.ID, "error", err)
			}
			continue
		}
		amount := r.CommissionAmountCents
		if amount == 0 {
			amount = s.cfg.GetReferralCommissionCents()
		}
		paid++
		s.eventBus.Publish(ctx, events.ReferralPaid{
			BaseEvent:           events.NewBaseEvent(),
			ReferralID:          r.ID,
			ReferrerInstallerID: r.ReferrerInstallerID,
			AmountCents:         amount,
		})
	}
	return paid, nil
}

func (s *Service) hasPurchase(ctx context.Context, r domain.Referral) (bool, error) {
	txs, err := s.repo.ListTransactionsByInstaller(ctx, r.ReferredInstallerID)
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		if tx.Status == domain.TxSucceeded {
			return true, nil
		}
	}
	return false, nil
}
