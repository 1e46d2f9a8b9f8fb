package revenue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/offers"
	"solar_leads_backend/internal/payments"
	"solar_leads_backend/internal/refunds"
	"solar_leads_backend/internal/repository/memory"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

type payoutConfig struct{}

func (payoutConfig) GetPerformanceBonusCents() int64   { return 10000 }
func (payoutConfig) GetReferralCommissionCents() int64 { return 5000 }
func (payoutConfig) GetLeadTTL() time.Duration         { return 72 * time.Hour }
func (payoutConfig) GetOfferTTL() time.Duration        { return 48 * time.Hour }
func (payoutConfig) GetMatchConcurrency() int          { return 1 }
func (payoutConfig) GetCancelSiblingOffers() bool      { return false }

type stubSweeper struct {
	res   refunds.SweepResult
	err   error
	calls int
}

func (s *stubSweeper) ProcessBatch(context.Context) (refunds.SweepResult, error) {
	s.calls++
	return s.res, s.err
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventName())
	}
	return out
}

type fixture struct {
	store   *memory.Store
	bus     *events.InMemoryBus
	seen    *recorder
	sweeper *stubSweeper
	svc     *Service
	now     time.Time
}

func newFixture() *fixture {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	bus := events.NewInMemoryBus(logger.Nop())
	seen := &recorder{}
	for _, name := range []string{"lead.resold", "auction.closed", "payout.bonus", "payout.referral"} {
		bus.Subscribe(name, seen)
	}
	sweeper := &stubSweeper{}
	svc := New(store, sweeper, bus, payoutConfig{}, logger.Nop())
	svc.SetClock(func() time.Time { return now })
	return &fixture{store: store, bus: bus, seen: seen, sweeper: sweeper, svc: svc, now: now}
}

func (f *fixture) soldLead(age time.Duration, base int64) domain.Lead {
	sold := f.now.Add(-age)
	final := base
	return f.store.PutLead(domain.Lead{
		CustomerName:     "Jo Citizen",
		Status:           domain.LeadSold,
		BasePrice:        base,
		FinalPrice:       &final,
		OriginalSaleDate: &sold,
		CreatedAt:        sold.Add(-time.Hour),
	})
}

func TestResellLeads(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	old := f.soldLead(31*24*time.Hour, 110)
	f.soldLead(10*24*time.Hour, 110)

	n, err := f.svc.ResellLeads(ctx)
	if err != nil {
		t.Fatalf("ResellLeads: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 resale, got %d", n)
	}

	if orig := f.store.Lead(old.ID); !orig.IsResold {
		t.Fatalf("expected original lead flagged as resold")
	}

	var clone domain.Lead
	for _, l := range f.store.Leads() {
		if l.ID != old.ID && l.Status == domain.LeadNew {
			clone = l
		}
	}
	if clone.ID == uuid.Nil {
		t.Fatalf("expected a relisted lead")
	}
	if clone.BasePrice != 55 || clone.FinalPrice == nil || *clone.FinalPrice != 55 {
		t.Fatalf("expected resale price 55, got base %d", clone.BasePrice)
	}
	if !clone.IsResold || clone.ResaleCount != 1 {
		t.Fatalf("unexpected resale flags: resold=%v count=%d", clone.IsResold, clone.ResaleCount)
	}
	if clone.OriginalSaleDate != nil {
		t.Fatalf("expected relisted lead without a sale date")
	}
	if clone.ExpiresAt == nil || !clone.ExpiresAt.Equal(f.now.Add(72*time.Hour)) {
		t.Fatalf("unexpected expiry: %v", clone.ExpiresAt)
	}

	n, err = f.svc.ResellLeads(ctx)
	if err != nil {
		t.Fatalf("second ResellLeads: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected second run to resell nothing, got %d", n)
	}

	f.bus.Wait()
	if got := f.seen.names(); len(got) != 1 || got[0] != "lead.resold" {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestPayPerformanceBonuses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	explicit := f.store.PutClosure(domain.Closure{InstallerID: uuid.New(), PerformanceBonusCents: 2500, ClosedAt: f.now})
	defaulted := f.store.PutClosure(domain.Closure{InstallerID: uuid.New(), ClosedAt: f.now})
	f.store.PutClosure(domain.Closure{InstallerID: uuid.New(), BonusPaid: true, ClosedAt: f.now})

	n, err := f.svc.PayPerformanceBonuses(ctx)
	if err != nil {
		t.Fatalf("PayPerformanceBonuses: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 bonuses, got %d", n)
	}
	if !f.store.Closure(explicit.ID).BonusPaid || !f.store.Closure(defaulted.ID).BonusPaid {
		t.Fatalf("expected both closures marked paid")
	}

	f.bus.Wait()
	amounts := map[uuid.UUID]int64{}
	for _, e := range f.seen.events {
		if b, ok := e.(events.BonusPaid); ok {
			amounts[b.ClosureID] = b.AmountCents
		}
	}
	if amounts[explicit.ID] != 2500 || amounts[defaulted.ID] != 10000 {
		t.Fatalf("unexpected bonus amounts: %v", amounts)
	}

	if n, _ := f.svc.PayPerformanceBonuses(ctx); n != 0 {
		t.Fatalf("expected no bonuses on second run, got %d", n)
	}
}

func TestPayPerformanceBonusForReportedClosure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	customer := "cus_closer"
	inst := f.store.PutInstaller(domain.Installer{MaxLeadsPerMonth: 10, StripeCustomerID: &customer, IsActive: true, IsVerified: true})
	lead := f.store.PutLead(domain.Lead{Status: domain.LeadOffered, BasePrice: 70, CreatedAt: f.now.Add(-time.Hour)})
	offer := f.store.PutOffer(domain.Offer{
		LeadID:      lead.ID,
		InstallerID: inst.ID,
		OfferPrice:  70,
		Status:      domain.OfferPending,
		SentAt:      f.now.Add(-time.Hour),
		ExpiresAt:   f.now.Add(47 * time.Hour),
	})

	lifecycle := offers.New(f.store, nil, &payments.NoopGateway{}, f.bus, payoutConfig{}, logger.Nop())
	lifecycle.SetClock(func() time.Time { return f.now })
	if _, err := lifecycle.RespondToOffer(ctx, offer.ID, inst.ID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	closure, err := lifecycle.ReportClosure(ctx, offer.ID, inst.ID, 14000)
	if err != nil {
		t.Fatalf("report closure: %v", err)
	}

	n, err := f.svc.PayPerformanceBonuses(ctx)
	if err != nil {
		t.Fatalf("PayPerformanceBonuses: %v", err)
	}
	if n != 1 || !f.store.Closure(closure.ID).BonusPaid {
		t.Fatalf("expected the reported closure paid, got n=%d", n)
	}

	f.bus.Wait()
	var paid *events.BonusPaid
	for _, e := range f.seen.events {
		if b, ok := e.(events.BonusPaid); ok {
			paid = &b
		}
	}
	if paid == nil || paid.ClosureID != closure.ID || paid.InstallerID != inst.ID || paid.AmountCents != 10000 {
		t.Fatalf("unexpected bonus event %+v", paid)
	}
}

func TestCloseAuctions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ended := f.now.Add(-time.Minute)
	open := f.now.Add(time.Hour)
	lead := f.store.PutLead(domain.Lead{Status: domain.LeadOffered, IsAuctionLead: true, AuctionEndTime: &ended})
	empty := f.store.PutLead(domain.Lead{Status: domain.LeadOffered, IsAuctionLead: true, AuctionEndTime: &ended})
	running := f.store.PutLead(domain.Lead{Status: domain.LeadOffered, IsAuctionLead: true, AuctionEndTime: &open})

	early := f.store.PutBid(domain.Bid{LeadID: lead.ID, InstallerID: uuid.New(), BidAmount: 120, CreatedAt: f.now.Add(-30 * time.Minute)})
	f.store.PutBid(domain.Bid{LeadID: lead.ID, InstallerID: uuid.New(), BidAmount: 120, CreatedAt: f.now.Add(-10 * time.Minute)})
	f.store.PutBid(domain.Bid{LeadID: lead.ID, InstallerID: uuid.New(), BidAmount: 90, CreatedAt: f.now.Add(-50 * time.Minute)})
	f.store.PutBid(domain.Bid{LeadID: running.ID, InstallerID: uuid.New(), BidAmount: 500, CreatedAt: f.now})

	n, err := f.svc.CloseAuctions(ctx)
	if err != nil {
		t.Fatalf("CloseAuctions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 closed auction, got %d", n)
	}

	got := f.store.Lead(lead.ID)
	if got.Status != domain.LeadSold || got.FinalPrice == nil || *got.FinalPrice != 120 {
		t.Fatalf("expected lead sold at 120, got %s", got.Status)
	}
	if !f.store.Bid(early.ID).IsWinningBid {
		t.Fatalf("expected the earliest of the tied bids to win")
	}
	if f.store.Lead(empty.ID).Status != domain.LeadOffered {
		t.Fatalf("expected auction without bids to stay open")
	}
	if f.store.Lead(running.ID).Status != domain.LeadOffered {
		t.Fatalf("expected running auction to stay open")
	}
}

func TestWinningBidTieBreaks(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	bid, ok := WinningBid([]domain.Bid{
		{ID: high, BidAmount: 100, CreatedAt: at},
		{ID: low, BidAmount: 100, CreatedAt: at},
		{ID: uuid.New(), BidAmount: 99, CreatedAt: at.Add(-time.Hour)},
	})
	if !ok || bid.ID != low {
		t.Fatalf("expected lowest id to win an exact tie, got %v", bid.ID)
	}

	if _, ok := WinningBid(nil); ok {
		t.Fatalf("expected no winner without bids")
	}
}

func TestPayReferrals(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	buyer := uuid.New()
	browser := uuid.New()
	f.store.PutTransaction(domain.Transaction{InstallerID: buyer, AmountCents: 8500, Status: domain.TxSucceeded})
	f.store.PutTransaction(domain.Transaction{InstallerID: browser, AmountCents: 8500, Status: domain.TxPending})

	paid := f.store.PutReferral(domain.Referral{ReferrerInstallerID: uuid.New(), ReferredInstallerID: buyer, CreatedAt: f.now})
	waiting := f.store.PutReferral(domain.Referral{ReferrerInstallerID: uuid.New(), ReferredInstallerID: browser, CreatedAt: f.now})

	n, err := f.svc.PayReferrals(ctx)
	if err != nil {
		t.Fatalf("PayReferrals: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 referral paid, got %d", n)
	}

	r := f.store.Referral(paid.ID)
	if r.Status != domain.ReferralPaid || r.PaidAt == nil || !r.PaidAt.Equal(f.now) {
		t.Fatalf("unexpected paid referral: %+v", r)
	}
	if f.store.Referral(waiting.ID).Status != domain.ReferralPending {
		t.Fatalf("expected referral without purchase to stay pending")
	}

	f.bus.Wait()
	for _, e := range f.seen.events {
		if rp, ok := e.(events.ReferralPaid); ok && rp.AmountCents != 5000 {
			t.Fatalf("expected default commission, got %d", rp.AmountCents)
		}
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	f := newFixture()
	f.sweeper.err = errors.New("gateway down")
	f.soldLead(40*24*time.Hour, 80)

	res := f.svc.Run(context.Background())
	if res.Resold != 1 {
		t.Fatalf("expected resale to run, got %d", res.Resold)
	}
	if res.Failed != 1 {
		t.Fatalf("expected the refund sweep failure to be counted, got %d", res.Failed)
	}
	if f.sweeper.calls != 1 {
		t.Fatalf("expected refund sweep to run once, got %d", f.sweeper.calls)
	}
}
