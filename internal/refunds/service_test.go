package refunds

import (
	"context"
	"errors"
	"testing"
	"time"

	"solar_leads_backend/internal/activity"
	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/repository/memory"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

type refundConfig struct {
	sweepEnabled bool
}

func (refundConfig) GetRefundWindowDays() int           { return 30 }
func (c refundConfig) GetRefundSweepEnabled() bool      { return c.sweepEnabled }
func (refundConfig) GetRefundSweepMinAgeDays() int      { return 7 }
func (refundConfig) GetRefundSweepAssumedAttempts() int { return 3 }

type fakeGateway struct {
	refunds []string
	err     error
}

func (g *fakeGateway) Charge(context.Context, int64, string, string) (string, error) {
	return "", errors.New("not used")
}

func (g *fakeGateway) Refund(_ context.Context, ref string) error {
	if g.err != nil {
		return g.err
	}
	g.refunds = append(g.refunds, ref)
	return nil
}

type fixture struct {
	store   *memory.Store
	gateway *fakeGateway
	svc     *Service
	now     time.Time
}

func newFixture(cfg refundConfig) *fixture {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	gw := &fakeGateway{}
	svc := New(store, gw, events.NewInMemoryBus(logger.Nop()), activity.NewRecorder(store, logger.Nop()), cfg, logger.Nop())
	svc.SetClock(func() time.Time { return now })
	return &fixture{store: store, gateway: gw, svc: svc, now: now}
}

// acceptedOffer seeds an offer accepted age ago with a succeeded transaction.
func (f *fixture) acceptedOffer(age time.Duration) (domain.Offer, domain.Transaction) {
	responded := f.now.Add(-age)
	offer := f.store.PutOffer(domain.Offer{
		LeadID:      uuid.New(),
		InstallerID: uuid.New(),
		OfferPrice:  85,
		Status:      domain.OfferAccepted,
		SentAt:      responded.Add(-time.Hour),
		ExpiresAt:   responded.Add(47 * time.Hour),
		RespondedAt: &responded,
	})
	ref := "pi_" + offer.ID.String()[:8]
	offerID := offer.ID
	tx := f.store.PutTransaction(domain.Transaction{
		LeadID:             offer.LeadID,
		InstallerID:        offer.InstallerID,
		OfferID:            &offerID,
		AmountCents:        8500,
		Currency:           "AUD",
		Status:             domain.TxSucceeded,
		ExternalPaymentRef: &ref,
		Metadata:           domain.TransactionMetadata{OfferID: offer.ID.String(), Kind: "lead_purchase"},
	})
	return offer, tx
}

// uncharged seeds an accepted offer whose purchase transaction never settled.
func (f *fixture) uncharged(age time.Duration, status domain.TransactionStatus) domain.Offer {
	offer, tx := f.acceptedOffer(age)
	tx.Status = status
	tx.ExternalPaymentRef = nil
	f.store.PutTransaction(tx)
	return offer
}

func TestValidatePreconditions(t *testing.T) {
	f := newFixture(refundConfig{})
	ctx := context.Background()

	pending := f.store.PutOffer(domain.Offer{LeadID: uuid.New(), InstallerID: uuid.New(), OfferPrice: 60})
	unanswered := f.store.PutOffer(domain.Offer{LeadID: uuid.New(), InstallerID: uuid.New(), Status: domain.OfferAccepted})
	old, _ := f.acceptedOffer(31 * 24 * time.Hour)
	boundary, _ := f.acceptedOffer(30 * 24 * time.Hour)
	refunded, refundedTx := f.acceptedOffer(2 * 24 * time.Hour)
	if err := f.store.MarkTransactionRefunded(ctx, refundedTx.ID); err != nil {
		t.Fatalf("seed refunded transaction: %v", err)
	}
	uncharged := f.uncharged(2*24*time.Hour, domain.TxFailed)

	cases := []struct {
		name    string
		offerID uuid.UUID
		valid   bool
		reason  string
	}{
		{"missing offer", uuid.New(), false, ReasonOfferNotFound},
		{"pending offer", pending.ID, false, ReasonNotAccepted},
		{"already refunded", refunded.ID, false, ReasonAlreadyRefunded},
		{"never charged", uncharged.ID, false, ReasonNotCharged},
		{"no response time", unanswered.ID, false, ReasonNotResponded},
		{"31 days old", old.ID, false, "Refund window expired (30 days)"},
		{"exactly 30 days", boundary.ID, true, ReasonDuplicate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := f.svc.Validate(ctx, Request{OfferID: tc.offerID, Reason: domain.RefundDuplicate})
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if v.Valid != tc.valid || v.Reason != tc.reason {
				t.Fatalf("expected {%v %q}, got {%v %q}", tc.valid, tc.reason, v.Valid, v.Reason)
			}
		})
	}
}

func TestValidateReasonRules(t *testing.T) {
	f := newFixture(refundConfig{})
	ctx := context.Background()
	recent, _ := f.acceptedOffer(2 * 24 * time.Hour)
	week, _ := f.acceptedOffer(6 * 24 * time.Hour)

	cases := []struct {
		name     string
		offerID  uuid.UUID
		reason   domain.RefundReason
		attempts int
		valid    bool
		want     string
	}{
		{"invalid phone", recent.ID, domain.RefundInvalidPhone, 0, true, ReasonInvalidPhone},
		{"never inquired", recent.ID, domain.RefundNeverInquired, 0, true, ReasonNeverInquired},
		{"duplicate", recent.ID, domain.RefundDuplicate, 0, true, ReasonDuplicate},
		{"other needs review", recent.ID, domain.RefundOther, 10, false, ReasonManualReview},
		{"no response too few attempts", week.ID, domain.RefundNoResponse, 2, false, ReasonTooFewAttempts},
		{"no response too early", recent.ID, domain.RefundNoResponse, 3, false, ReasonTooEarly},
		{"no response approved", week.ID, domain.RefundNoResponse, 3, true, ReasonNoResponse},
		{"unknown reason", recent.ID, domain.RefundReason("changed_mind"), 0, false, ReasonInvalidReason},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := f.svc.Validate(ctx, Request{OfferID: tc.offerID, Reason: tc.reason, ContactAttempts: tc.attempts})
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if v.Valid != tc.valid || v.Reason != tc.want {
				t.Fatalf("expected {%v %q}, got {%v %q}", tc.valid, tc.want, v.Valid, v.Reason)
			}
		})
	}
}

func TestValidateRejectsOtherInstaller(t *testing.T) {
	f := newFixture(refundConfig{})
	offer, _ := f.acceptedOffer(24 * time.Hour)
	stranger := uuid.New()

	v, err := f.svc.Validate(context.Background(), Request{OfferID: offer.ID, InstallerID: &stranger, Reason: domain.RefundDuplicate})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if v.Valid || v.Reason != ReasonWrongInstaller {
		t.Fatalf("expected wrong installer rejection, got %+v", v)
	}
}

func TestProcessApprovedRefundsTransaction(t *testing.T) {
	f := newFixture(refundConfig{})
	ctx := context.Background()
	offer, tx := f.acceptedOffer(3 * 24 * time.Hour)

	res, err := f.svc.Process(ctx, Request{OfferID: offer.ID, Reason: domain.RefundInvalidPhone})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !res.Approved || res.RefundAmount != 85 || res.Reason != ReasonInvalidPhone {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.store.Transaction(tx.ID).Status; got != domain.TxRefunded {
		t.Fatalf("expected transaction refunded, got %s", got)
	}
	if len(f.gateway.refunds) != 1 || f.gateway.refunds[0] != *tx.ExternalPaymentRef {
		t.Fatalf("expected one gateway refund for %s, got %v", *tx.ExternalPaymentRef, f.gateway.refunds)
	}

	records := f.store.RefundRecords()
	if len(records) != 1 || !records[0].Approved || records[0].RefundAmount != 85 {
		t.Fatalf("expected one approved refund record, got %+v", records)
	}
	acts := f.store.Activities()
	if len(acts) != 1 || acts[0].ActivityType != activity.TypeRefundDecision || acts[0].Status != domain.ActivitySuccess {
		t.Fatalf("expected one successful refund_decision activity, got %+v", acts)
	}

	again, err := f.svc.Process(ctx, Request{OfferID: offer.ID, Reason: domain.RefundInvalidPhone})
	if err != nil {
		t.Fatalf("second Process returned error: %v", err)
	}
	if again.Approved || again.Reason != ReasonAlreadyRefunded {
		t.Fatalf("expected already refunded on second claim, got %+v", again)
	}
}

func TestProcessWithoutTransaction(t *testing.T) {
	f := newFixture(refundConfig{})
	responded := f.now.Add(-24 * time.Hour)
	offer := f.store.PutOffer(domain.Offer{
		LeadID:      uuid.New(),
		InstallerID: uuid.New(),
		OfferPrice:  70,
		Status:      domain.OfferAccepted,
		RespondedAt: &responded,
	})

	res, err := f.svc.Process(context.Background(), Request{OfferID: offer.ID, Reason: domain.RefundDuplicate})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if res.Approved || res.Reason != ReasonNoTransaction {
		t.Fatalf("expected missing transaction rejection, got %+v", res)
	}
	if len(f.store.RefundRecords()) != 1 {
		t.Fatal("expected rejected decision to be persisted")
	}
}

func TestProcessGatewayFailureIsAResult(t *testing.T) {
	f := newFixture(refundConfig{})
	f.gateway.err = errors.New("processor unavailable")
	offer, tx := f.acceptedOffer(24 * time.Hour)

	res, err := f.svc.Process(context.Background(), Request{OfferID: offer.ID, Reason: domain.RefundDuplicate})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if res.Approved {
		t.Fatalf("expected failed refund, got %+v", res)
	}
	if got := f.store.Transaction(tx.ID).Status; got != domain.TxSucceeded {
		t.Fatalf("expected transaction untouched, got %s", got)
	}
	acts := f.store.Activities()
	if len(acts) != 1 || acts[0].Status != domain.ActivityFailed {
		t.Fatalf("expected a failed activity, got %+v", acts)
	}
}

func TestEligibility(t *testing.T) {
	f := newFixture(refundConfig{})
	ctx := context.Background()

	offer, _ := f.acceptedOffer(12 * 24 * time.Hour)
	out, err := f.svc.Eligibility(ctx, offer.ID)
	if err != nil {
		t.Fatalf("Eligibility returned error: %v", err)
	}
	if !out.Eligible || out.DaysRemaining != 18 || out.DaysSinceAccepted != 12 {
		t.Fatalf("unexpected eligibility %+v", out)
	}

	boundary, _ := f.acceptedOffer(30 * 24 * time.Hour)
	out, err = f.svc.Eligibility(ctx, boundary.ID)
	if err != nil {
		t.Fatalf("Eligibility returned error: %v", err)
	}
	if !out.Eligible || out.DaysRemaining != 0 {
		t.Fatalf("expected eligible with no days remaining, got %+v", out)
	}

	out, err = f.svc.Eligibility(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Eligibility returned error: %v", err)
	}
	if out.Eligible || out.Reason != ReasonOfferNotFound {
		t.Fatalf("expected not found, got %+v", out)
	}
	if len(f.store.RefundRecords()) != 0 {
		t.Fatal("eligibility must not persist anything")
	}
}

func TestProcessBatch(t *testing.T) {
	f := newFixture(refundConfig{sweepEnabled: true})
	ctx := context.Background()

	stale, staleTx := f.acceptedOffer(8 * 24 * time.Hour)
	fresh, _ := f.acceptedOffer(3 * 24 * time.Hour)
	closed, _ := f.acceptedOffer(10 * 24 * time.Hour)
	f.store.PutClosure(domain.Closure{OfferID: closed.ID, LeadID: closed.LeadID, InstallerID: closed.InstallerID, ClosedAt: f.now})

	res, err := f.svc.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if res.Processed != 1 || res.Approved != 1 {
		t.Fatalf("expected one approved claim, got %+v", res)
	}
	if f.store.Transaction(staleTx.ID).Status != domain.TxRefunded {
		t.Fatal("expected stale offer to be refunded")
	}
	records := f.store.RefundRecords()
	if len(records) != 1 || records[0].OfferID != stale.ID || !records[0].Automated || records[0].ContactAttempts != 3 {
		t.Fatalf("unexpected records %+v", records)
	}
	for _, r := range records {
		if r.OfferID == fresh.ID || r.OfferID == closed.ID {
			t.Fatalf("offer %s should not have been swept", r.OfferID)
		}
	}

	again, err := f.svc.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("second ProcessBatch returned error: %v", err)
	}
	if again.Processed != 0 {
		t.Fatalf("expected decided offers to be skipped, got %+v", again)
	}
}

func TestProcessBatchDisabled(t *testing.T) {
	f := newFixture(refundConfig{sweepEnabled: false})
	f.acceptedOffer(20 * 24 * time.Hour)

	res, err := f.svc.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if res.Processed != 0 || len(f.store.RefundRecords()) != 0 {
		t.Fatalf("expected disabled sweep to do nothing, got %+v", res)
	}
}

func TestProcessRejectsChargeThatNeverCompleted(t *testing.T) {
	ctx := context.Background()
	for _, status := range []domain.TransactionStatus{domain.TxPending, domain.TxFailed} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(refundConfig{})
			offer := f.uncharged(6*24*time.Hour, status)
			installerID := offer.InstallerID

			res, err := f.svc.Process(ctx, Request{
				OfferID:     offer.ID,
				InstallerID: &installerID,
				Reason:      domain.RefundInvalidPhone,
			})
			if err != nil {
				t.Fatalf("Process returned error: %v", err)
			}
			if res.Approved || res.Reason != ReasonNotCharged {
				t.Fatalf("expected rejection %q, got %+v", ReasonNotCharged, res)
			}
			if len(f.gateway.refunds) != 0 {
				t.Fatalf("gateway must not be called, got %v", f.gateway.refunds)
			}
			records := f.store.RefundRecords()
			if len(records) != 1 || records[0].Approved {
				t.Fatalf("expected one rejected record, got %+v", records)
			}
		})
	}
}

func TestProcessBatchSkipsReportedClosure(t *testing.T) {
	f := newFixture(refundConfig{sweepEnabled: true})
	ctx := context.Background()

	closed, closedTx := f.acceptedOffer(10 * 24 * time.Hour)
	if _, err := f.store.CreateClosure(ctx, domain.Closure{
		OfferID:       closed.ID,
		LeadID:        closed.LeadID,
		InstallerID:   closed.InstallerID,
		ContractValue: 11000,
		ClosedAt:      f.now.Add(-24 * time.Hour),
	}); err != nil {
		t.Fatalf("report closure: %v", err)
	}

	res, err := f.svc.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("closed sale must not be swept, got %+v", res)
	}
	if got := f.store.Transaction(closedTx.ID).Status; got != domain.TxSucceeded {
		t.Fatalf("closed sale must keep its payment, got %s", got)
	}
}
