package domain

import "testing"

func TestLeadTransitions(t *testing.T) {
	cases := []struct {
		from, to LeadStatus
		want     bool
	}{
		{LeadNew, LeadOffered, true},
		{LeadOffered, LeadAccepted, true},
		{LeadAccepted, LeadSold, true},
		{LeadOffered, LeadExpired, true},
		{LeadOffered, LeadSold, true},
		{LeadNew, LeadAccepted, false},
		{LeadAccepted, LeadOffered, false},
		{LeadSold, LeadNew, false},
		{LeadExpired, LeadOffered, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestOfferTransitionsOnlyFromPending(t *testing.T) {
	if !OfferPending.CanTransition(OfferAccepted) {
		t.Error("pending -> accepted must be allowed")
	}
	if OfferAccepted.CanTransition(OfferExpired) {
		t.Error("accepted offers are immutable")
	}
	if OfferExpired.CanTransition(OfferPending) {
		t.Error("expired offers are terminal")
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseLeadStatus("offered"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseLeadStatus("claimed"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
	if _, err := ParseOfferStatus("bogus"); err == nil {
		t.Fatal("expected unknown offer status to fail")
	}
}

func TestInstallerServicesPostcode(t *testing.T) {
	inst := Installer{ServicePostcodes: []string{"4000", "4101"}}
	if !inst.ServicesPostcode("4101") {
		t.Error("expected 4101 to be serviced")
	}
	if inst.ServicesPostcode("4200") {
		t.Error("did not expect 4200 to be serviced")
	}
}
