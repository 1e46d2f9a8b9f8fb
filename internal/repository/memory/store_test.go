package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/apperr"

	"github.com/google/uuid"
)

func TestCreateOfferRejectsSecondLiveOfferForPair(t *testing.T) {
	ctx := context.Background()
	s := New()
	lead := s.PutLead(domain.Lead{Status: domain.LeadOffered})
	inst := s.PutInstaller(domain.Installer{IsActive: true, IsVerified: true})

	first, err := s.CreateOffer(ctx, domain.Offer{LeadID: lead.ID, InstallerID: inst.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.CreateOffer(ctx, domain.Offer{LeadID: lead.ID, InstallerID: inst.ID}); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := s.TransitionOffer(ctx, first.ID, domain.OfferExpired, nil); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, err := s.CreateOffer(ctx, domain.Offer{LeadID: lead.ID, InstallerID: inst.ID}); err != nil {
		t.Fatalf("expected re-offer after expiry, got %v", err)
	}
}

func TestAcceptOfferOnlyFirstWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	lead := s.PutLead(domain.Lead{Status: domain.LeadOffered})
	one := s.PutInstaller(domain.Installer{MaxLeadsPerMonth: 5})
	two := s.PutInstaller(domain.Installer{MaxLeadsPerMonth: 5})
	a := s.PutOffer(domain.Offer{LeadID: lead.ID, InstallerID: one.ID})
	b := s.PutOffer(domain.Offer{LeadID: lead.ID, InstallerID: two.ID})
	monthStart := time.Now().AddDate(0, -1, 0)

	if err := s.AcceptOffer(ctx, a.ID, time.Now(), monthStart); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AcceptOffer(ctx, b.ID, time.Now(), monthStart); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for second acceptance, got %v", err)
	}
	if got := s.Lead(lead.ID).Status; got != domain.LeadAccepted {
		t.Fatalf("expected lead accepted, got %s", got)
	}
	if got := s.Offer(b.ID).Status; got != domain.OfferPending {
		t.Fatalf("sibling must stay pending, got %s", got)
	}
}

func TestAcceptOfferStopsAtMonthlyCap(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	monthStart := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	inst := s.PutInstaller(domain.Installer{MaxLeadsPerMonth: 1})
	s.PutOffer(domain.Offer{InstallerID: inst.ID, Status: domain.OfferAccepted, SentAt: monthStart.Add(-time.Hour)})
	first := s.PutOffer(domain.Offer{LeadID: s.PutLead(domain.Lead{Status: domain.LeadOffered}).ID, InstallerID: inst.ID, Status: domain.OfferPending, SentAt: now})
	second := s.PutOffer(domain.Offer{LeadID: s.PutLead(domain.Lead{Status: domain.LeadOffered}).ID, InstallerID: inst.ID, Status: domain.OfferPending, SentAt: now})

	if err := s.AcceptOffer(ctx, first.ID, now, monthStart); err != nil {
		t.Fatalf("last month's acceptance must not count: %v", err)
	}
	if err := s.AcceptOffer(ctx, second.ID, now, monthStart); !errors.Is(err, repository.ErrCapacityReached) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if got := s.Offer(second.ID).Status; got != domain.OfferPending {
		t.Fatalf("capped offer must stay pending, got %s", got)
	}
	if got := s.Lead(second.LeadID).Status; got != domain.LeadOffered {
		t.Fatalf("capped lead must stay offered, got %s", got)
	}
}

func TestRecordSaleSellsAcceptedLead(t *testing.T) {
	ctx := context.Background()
	s := New()
	soldAt := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	lead := s.PutLead(domain.Lead{Status: domain.LeadAccepted})
	tx := s.PutTransaction(domain.Transaction{LeadID: lead.ID, Status: domain.TxPending})
	ref := "pi_123"
	tx.ExternalPaymentRef = &ref

	if err := s.RecordSale(ctx, tx, 65, soldAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := s.Lead(lead.ID)
	if got.Status != domain.LeadSold || got.FinalPrice == nil || *got.FinalPrice != 65 || got.OriginalSaleDate == nil {
		t.Fatalf("unexpected lead %+v", got)
	}
	settled := s.Transaction(tx.ID)
	if settled.Status != domain.TxSucceeded || settled.ExternalPaymentRef == nil || *settled.ExternalPaymentRef != ref {
		t.Fatalf("unexpected transaction %+v", settled)
	}
	if err := s.RecordSale(ctx, tx, 65, soldAt); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on second sale, got %v", err)
	}
}

func TestRecordSaleLeavesTransactionWhenLeadNotAccepted(t *testing.T) {
	ctx := context.Background()
	s := New()
	lead := s.PutLead(domain.Lead{Status: domain.LeadExpired})
	tx := s.PutTransaction(domain.Transaction{LeadID: lead.ID, Status: domain.TxPending})

	if err := s.RecordSale(ctx, tx, 65, time.Now()); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := s.Transaction(tx.ID).Status; got != domain.TxPending {
		t.Fatalf("transaction must stay pending, got %s", got)
	}
}

func TestCreateClosureOncePerOffer(t *testing.T) {
	ctx := context.Background()
	s := New()
	offerID := uuid.New()

	c, err := s.CreateClosure(ctx, domain.Closure{OfferID: offerID, ContractValue: 9000, PerformanceBonusCents: 4000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID == uuid.Nil || c.BonusPaid {
		t.Fatalf("unexpected closure %+v", c)
	}
	if _, err := s.CreateClosure(ctx, domain.Closure{OfferID: offerID}); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTransitionLeadIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	lead := s.PutLead(domain.Lead{Status: domain.LeadNew})

	if err := s.TransitionLead(ctx, lead.ID, domain.LeadNew, domain.LeadOffered); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.TransitionLead(ctx, lead.ID, domain.LeadNew, domain.LeadOffered); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on stale from-status, got %v", err)
	}
	if err := s.TransitionLead(ctx, lead.ID, domain.LeadSold, domain.LeadNew); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for illegal edge, got %v", err)
	}
}

func TestMarkTransactionRefundedRequiresSucceeded(t *testing.T) {
	ctx := context.Background()
	s := New()
	pending := s.PutTransaction(domain.Transaction{Status: domain.TxPending})
	paid := s.PutTransaction(domain.Transaction{Status: domain.TxSucceeded})

	if err := s.MarkTransactionRefunded(ctx, pending.ID); err == nil {
		t.Fatal("expected pending transaction refund to fail")
	}
	if err := s.MarkTransactionRefunded(ctx, paid.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkTransactionRefunded(ctx, paid.ID); err == nil {
		t.Fatal("expected double refund to fail")
	}
}
