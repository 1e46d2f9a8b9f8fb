package offers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/matching"
	"solar_leads_backend/internal/payments"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/internal/repository/memory"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

type offerConfig struct{ cancelSiblings bool }

func (offerConfig) GetOfferTTL() time.Duration      { return 48 * time.Hour }
func (offerConfig) GetLeadTTL() time.Duration       { return 7 * 24 * time.Hour }
func (offerConfig) GetMatchConcurrency() int        { return 2 }
func (c offerConfig) GetCancelSiblingOffers() bool  { return c.cancelSiblings }
func (offerConfig) GetPerformanceBonusCents() int64 { return 4000 }

type fixture struct {
	store   *memory.Store
	svc     *Service
	gateway *payments.NoopGateway
	now     time.Time
}

func newFixture(cfg offerConfig) *fixture {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	bus := events.NewInMemoryBus(logger.Nop())
	matcher := matching.New(store, bus, cfg, logger.Nop())
	matcher.SetClock(func() time.Time { return now })
	gw := &payments.NoopGateway{}
	svc := New(store, matcher, gw, bus, cfg, logger.Nop())
	svc.SetClock(func() time.Time { return now })
	return &fixture{store: store, svc: svc, gateway: gw, now: now}
}

func (f *fixture) installer(autoAccept bool) domain.Installer {
	customer := "cus_" + uuid.NewString()[:8]
	return f.store.PutInstaller(domain.Installer{
		State:            "QLD",
		ServicePostcodes: []string{"4000"},
		ServiceRadiusKm:  50,
		MaxLeadsPerMonth: 50,
		MaxLeadPrice:     100,
		AutoAcceptLeads:  autoAccept,
		StripeCustomerID: &customer,
		IsActive:         true,
		IsVerified:       true,
	})
}

func (f *fixture) offeredLead(expiresIn time.Duration) domain.Lead {
	exp := f.now.Add(expiresIn)
	return f.store.PutLead(domain.Lead{
		State:        "QLD",
		Postcode:     "4000",
		QualityScore: 85,
		BasePrice:    60,
		Status:       domain.LeadOffered,
		ExpiresAt:    &exp,
		CreatedAt:    f.now.Add(-50 * time.Hour),
	})
}

func (f *fixture) offer(lead domain.Lead, inst domain.Installer, sentAgo time.Duration) domain.Offer {
	sent := f.now.Add(-sentAgo)
	return f.store.PutOffer(domain.Offer{
		LeadID:      lead.ID,
		InstallerID: inst.ID,
		OfferPrice:  lead.BasePrice,
		Status:      domain.OfferPending,
		SentAt:      sent,
		ExpiresAt:   sent.Add(48 * time.Hour),
	})
}

func TestHandleExpiredOffersReoffersToNextInstaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	a := f.installer(false)
	b := f.installer(false)
	lead := f.offeredLead(72 * time.Hour)
	stale := f.offer(lead, a, 49*time.Hour)

	res, err := f.svc.HandleExpiredOffers(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OffersExpired != 1 || res.LeadsReoffered != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.store.Offer(stale.ID).Status; got != domain.OfferExpired {
		t.Fatalf("expected stale offer expired, got %s", got)
	}
	var fresh *domain.Offer
	for _, o := range f.store.Offers() {
		if o.ID != stale.ID {
			o := o
			fresh = &o
		}
	}
	if fresh == nil || fresh.InstallerID != b.ID || fresh.Status != domain.OfferPending {
		t.Fatalf("expected a pending offer to installer B, got %+v", fresh)
	}
	if got := f.store.Lead(lead.ID).Status; got != domain.LeadOffered {
		t.Fatalf("expected lead to stay offered, got %s", got)
	}
}

func TestHandleExpiredOffersIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	a := f.installer(false)
	f.installer(false)
	lead := f.offeredLead(72 * time.Hour)
	f.offer(lead, a, 49*time.Hour)

	if _, err := f.svc.HandleExpiredOffers(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := f.store.Offers()

	res, err := f.svc.HandleExpiredOffers(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res != (SweepResult{}) {
		t.Fatalf("expected no changes on second run, got %+v", res)
	}
	if len(f.store.Offers()) != len(before) {
		t.Fatal("second run created offers")
	}
}

func TestHandleExpiredOffersExpiresLeadPastItsOwnDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	a := f.installer(false)
	f.installer(false)
	lead := f.offeredLead(-time.Minute)
	f.offer(lead, a, 49*time.Hour)

	res, err := f.svc.HandleExpiredOffers(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LeadsExpired != 1 {
		t.Fatalf("expected lead expired, got %+v", res)
	}
	if got := f.store.Lead(lead.ID).Status; got != domain.LeadExpired {
		t.Fatalf("expected lead expired, got %s", got)
	}
	if len(f.store.Offers()) != 1 {
		t.Fatal("an expired lead must not be re-offered")
	}
}

func TestHandleExpiredOffersExpiresLeadWithNoInstallersLeft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	a := f.installer(false)
	lead := f.offeredLead(72 * time.Hour)
	f.offer(lead, a, 49*time.Hour)

	if _, err := f.svc.HandleExpiredOffers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.store.Lead(lead.ID).Status; got != domain.LeadExpired {
		t.Fatalf("expected lead expired, got %s", got)
	}
}

func TestHandleExpiredOffersLeavesAcceptedLeadAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	a, b := f.installer(false), f.installer(false)
	lead := f.offeredLead(72 * time.Hour)
	winner := f.offer(lead, a, 2*time.Hour)
	f.offer(lead, b, 49*time.Hour)
	if err := f.store.AcceptOffer(ctx, winner.ID, f.now, matching.MonthStart(f.now)); err != nil {
		t.Fatalf("accept: %v", err)
	}

	res, err := f.svc.HandleExpiredOffers(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OffersExpired != 1 || res.LeadsReoffered != 0 || res.LeadsExpired != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.store.Lead(lead.ID).Status; got != domain.LeadAccepted {
		t.Fatalf("expected lead to stay accepted, got %s", got)
	}
}

func TestProcessAutoAcceptFirstInstallerWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	a, b := f.installer(true), f.installer(true)
	lead := f.offeredLead(72 * time.Hour)
	first := f.offer(lead, a, 2*time.Hour)
	second := f.offer(lead, b, time.Hour)

	n, err := f.svc.ProcessAutoAcceptOffers(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one auto-accept, got %d", n)
	}
	if got := f.store.Offer(first.ID).Status; got != domain.OfferAccepted {
		t.Fatalf("expected earliest offer accepted, got %s", got)
	}
	if got := f.store.Offer(second.ID).Status; got != domain.OfferPending {
		t.Fatalf("sibling must be left pending, got %s", got)
	}
	if f.store.Offer(first.ID).RespondedAt == nil {
		t.Fatal("expected respondedAt to be set")
	}
	if got := f.store.Lead(lead.ID).Status; got != domain.LeadSold {
		t.Fatalf("expected lead sold after the charge settled, got %s", got)
	}

	txs := f.store.Transactions()
	if len(txs) != 1 || txs[0].Status != domain.TxSucceeded || txs[0].AmountCents != 6000 {
		t.Fatalf("expected one succeeded 6000c transaction, got %+v", txs)
	}
	if txs[0].Metadata.OfferID != first.ID.String() {
		t.Fatalf("expected metadata offer reference, got %q", txs[0].Metadata.OfferID)
	}

	if n, _ := f.svc.ProcessAutoAcceptOffers(ctx); n != 0 {
		t.Fatalf("second pass must be a no-op, got %d", n)
	}
}

func TestRespondToOffer(t *testing.T) {
	ctx := context.Background()

	t.Run("accept claims the lead", func(t *testing.T) {
		f := newFixture(offerConfig{})
		a, b := f.installer(false), f.installer(false)
		lead := f.offeredLead(72 * time.Hour)
		mine := f.offer(lead, a, time.Hour)
		other := f.offer(lead, b, time.Hour)

		got, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != domain.OfferAccepted {
			t.Fatalf("expected accepted, got %s", got.Status)
		}
		if _, err := f.svc.RespondToOffer(ctx, other.ID, b.ID, true); !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("expected conflict for the sibling, got %v", err)
		}
		if got := f.store.Offer(other.ID).Status; got != domain.OfferPending {
			t.Fatalf("sibling must stay pending by default, got %s", got)
		}
	})

	t.Run("accept can expire siblings", func(t *testing.T) {
		f := newFixture(offerConfig{cancelSiblings: true})
		a, b := f.installer(false), f.installer(false)
		lead := f.offeredLead(72 * time.Hour)
		mine := f.offer(lead, a, time.Hour)
		other := f.offer(lead, b, time.Hour)

		if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := f.store.Offer(other.ID).Status; got != domain.OfferExpired {
			t.Fatalf("expected sibling expired, got %s", got)
		}
	})

	t.Run("reject", func(t *testing.T) {
		f := newFixture(offerConfig{})
		a := f.installer(false)
		lead := f.offeredLead(72 * time.Hour)
		mine := f.offer(lead, a, time.Hour)

		got, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != domain.OfferRejected || got.RespondedAt == nil {
			t.Fatalf("unexpected offer %+v", got)
		}
		if got := f.store.Lead(lead.ID).Status; got != domain.LeadOffered {
			t.Fatalf("reject must not move the lead, got %s", got)
		}
	})

	t.Run("expired offer", func(t *testing.T) {
		f := newFixture(offerConfig{})
		a := f.installer(false)
		lead := f.offeredLead(72 * time.Hour)
		mine := f.offer(lead, a, 49*time.Hour)

		if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); !apperr.Is(err, apperr.KindGone) {
			t.Fatalf("expected gone, got %v", err)
		}
	})

	t.Run("wrong installer", func(t *testing.T) {
		f := newFixture(offerConfig{})
		a, b := f.installer(false), f.installer(false)
		lead := f.offeredLead(72 * time.Hour)
		mine := f.offer(lead, a, time.Hour)

		if _, err := f.svc.RespondToOffer(ctx, mine.ID, b.ID, true); !apperr.Is(err, apperr.KindNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("monthly capacity is rechecked", func(t *testing.T) {
		f := newFixture(offerConfig{})
		inst := domain.Installer{
			State: "QLD", ServicePostcodes: []string{"4000"}, MaxLeadsPerMonth: 1, MaxLeadPrice: 100,
			IsActive: true, IsVerified: true,
		}
		a := f.store.PutInstaller(inst)
		f.store.PutOffer(domain.Offer{InstallerID: a.ID, Status: domain.OfferAccepted, SentAt: f.now.Add(-time.Hour)})
		lead := f.offeredLead(72 * time.Hour)
		mine := f.offer(lead, a, time.Hour)

		if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); !errors.Is(err, repository.ErrCapacityReached) {
			t.Fatalf("expected capacity conflict, got %v", err)
		}
		if got := f.store.Offer(mine.ID).Status; got != domain.OfferPending {
			t.Fatalf("offer must stay pending at the cap, got %s", got)
		}
	})
}

func TestSettledChargeSellsLead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	a := f.installer(false)
	lead := f.offeredLead(72 * time.Hour)
	mine := f.offer(lead, a, time.Hour)

	if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sold := f.store.Lead(lead.ID)
	if sold.Status != domain.LeadSold {
		t.Fatalf("expected lead sold, got %s", sold.Status)
	}
	if sold.FinalPrice == nil || *sold.FinalPrice != mine.OfferPrice {
		t.Fatalf("expected final price %d, got %v", mine.OfferPrice, sold.FinalPrice)
	}
	if sold.OriginalSaleDate == nil || !sold.OriginalSaleDate.Equal(f.now) {
		t.Fatalf("expected sale date %v, got %v", f.now, sold.OriginalSaleDate)
	}

	tx, err := f.store.GetTransactionByOfferID(ctx, mine.ID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if tx.Status != domain.TxSucceeded || tx.PaidAt == nil || tx.ExternalPaymentRef == nil {
		t.Fatalf("expected settled transaction, got %+v", tx)
	}
}

func TestChargeWithoutPaymentMethodFailsTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	a := f.store.PutInstaller(domain.Installer{
		State: "QLD", ServicePostcodes: []string{"4000"}, MaxLeadsPerMonth: 50, MaxLeadPrice: 100,
		IsActive: true, IsVerified: true,
	})
	lead := f.offeredLead(72 * time.Hour)
	mine := f.offer(lead, a, time.Hour)

	if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); err != nil {
		t.Fatalf("acceptance must survive an impossible charge: %v", err)
	}

	tx, err := f.store.GetTransactionByOfferID(ctx, mine.ID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if tx.Status != domain.TxFailed {
		t.Fatalf("expected failed transaction, got %s", tx.Status)
	}
	if tx.FailureReason == nil || *tx.FailureReason != ReasonNoPaymentMethod {
		t.Fatalf("expected failure reason %q, got %v", ReasonNoPaymentMethod, tx.FailureReason)
	}
	if got := f.store.Lead(lead.ID).Status; got != domain.LeadAccepted {
		t.Fatalf("unpaid lead must stay accepted, got %s", got)
	}
	if len(f.gateway.Charges) != 0 {
		t.Fatalf("gateway must not be called, got %v", f.gateway.Charges)
	}
}

func TestChargeWithoutGatewayFailsTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	f.svc.gateway = nil
	a := f.installer(false)
	lead := f.offeredLead(72 * time.Hour)
	mine := f.offer(lead, a, time.Hour)

	if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tx, err := f.store.GetTransactionByOfferID(ctx, mine.ID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if tx.Status != domain.TxFailed || tx.FailureReason == nil || *tx.FailureReason != ReasonNoProcessor {
		t.Fatalf("expected failed transaction without processor, got %+v", tx)
	}
}

// gatedStore holds every AcceptOffer call until all expected callers arrive.
type gatedStore struct {
	*memory.Store
	gate *sync.WaitGroup
}

func (g gatedStore) AcceptOffer(ctx context.Context, offerID uuid.UUID, respondedAt, monthStart time.Time) error {
	g.gate.Done()
	g.gate.Wait()
	return g.Store.AcceptOffer(ctx, offerID, respondedAt, monthStart)
}

func TestConcurrentAcceptsRespectMonthlyCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(offerConfig{})
	customer := "cus_cap"
	inst := f.store.PutInstaller(domain.Installer{
		State: "QLD", ServicePostcodes: []string{"4000"}, MaxLeadsPerMonth: 1, MaxLeadPrice: 100,
		StripeCustomerID: &customer, IsActive: true, IsVerified: true,
	})
	first := f.offer(f.offeredLead(72*time.Hour), inst, time.Hour)
	second := f.offer(f.offeredLead(72*time.Hour), inst, time.Hour)

	var gate sync.WaitGroup
	gate.Add(2)
	svc := New(gatedStore{Store: f.store, gate: &gate}, nil, f.gateway, events.NewInMemoryBus(logger.Nop()), offerConfig{}, logger.Nop())
	svc.SetClock(func() time.Time { return f.now })

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, o := range []domain.Offer{first, second} {
		wg.Add(1)
		go func(i int, o domain.Offer) {
			defer wg.Done()
			_, errs[i] = svc.RespondToOffer(ctx, o.ID, inst.ID, true)
		}(i, o)
	}
	wg.Wait()

	succeeded, capped := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, repository.ErrCapacityReached):
			capped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || capped != 1 {
		t.Fatalf("expected one acceptance and one capacity rejection, got %d and %d", succeeded, capped)
	}
	n, _ := f.store.CountAcceptedOffersSince(ctx, inst.ID, matching.MonthStart(f.now))
	if n != 1 {
		t.Fatalf("expected one accepted offer this month, got %d", n)
	}
}

func TestReportClosure(t *testing.T) {
	ctx := context.Background()

	t.Run("records a paid acceptance", func(t *testing.T) {
		f := newFixture(offerConfig{})
		a := f.installer(false)
		lead := f.offeredLead(72 * time.Hour)
		mine := f.offer(lead, a, time.Hour)
		if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); err != nil {
			t.Fatalf("accept: %v", err)
		}

		c, err := f.svc.ReportClosure(ctx, mine.ID, a.ID, 12000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.LeadID != lead.ID || c.InstallerID != a.ID || c.ContractValue != 12000 {
			t.Fatalf("unexpected closure %+v", c)
		}
		if c.PerformanceBonusCents != 4000 || c.BonusPaid {
			t.Fatalf("expected unpaid 4000c bonus, got %+v", c)
		}
		if _, err := f.svc.ReportClosure(ctx, mine.ID, a.ID, 12000); !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("expected conflict on second report, got %v", err)
		}
	})

	t.Run("unpaid acceptance", func(t *testing.T) {
		f := newFixture(offerConfig{})
		f.svc.gateway = nil
		a := f.installer(false)
		mine := f.offer(f.offeredLead(72*time.Hour), a, time.Hour)
		if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if _, err := f.svc.ReportClosure(ctx, mine.ID, a.ID, 12000); !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("pending offer", func(t *testing.T) {
		f := newFixture(offerConfig{})
		a := f.installer(false)
		mine := f.offer(f.offeredLead(72*time.Hour), a, time.Hour)
		if _, err := f.svc.ReportClosure(ctx, mine.ID, a.ID, 12000); !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("wrong installer", func(t *testing.T) {
		f := newFixture(offerConfig{})
		a, b := f.installer(false), f.installer(false)
		mine := f.offer(f.offeredLead(72*time.Hour), a, time.Hour)
		if _, err := f.svc.RespondToOffer(ctx, mine.ID, a.ID, true); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if _, err := f.svc.ReportClosure(ctx, mine.ID, b.ID, 12000); !apperr.Is(err, apperr.KindNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}
