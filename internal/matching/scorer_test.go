package matching

import (
	"strings"
	"testing"
	"time"

	"solar_leads_backend/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func brisbaneLead() domain.Lead {
	return domain.Lead{
		State:        "QLD",
		Postcode:     "4000",
		Latitude:     ptr(-27.4698),
		Longitude:    ptr(153.0251),
		QualityScore: 85,
		BasePrice:    60,
		Status:       domain.LeadNew,
	}
}

func directInstaller() domain.Installer {
	return domain.Installer{
		State:            "QLD",
		ServicePostcodes: []string{"4000"},
		ServiceRadiusKm:  50,
		MaxLeadsPerMonth: 50,
		MaxLeadPrice:     100,
		IsActive:         true,
		IsVerified:       true,
	}
}

func TestScoreDirectPostcode(t *testing.T) {
	m := Score(brisbaneLead(), directInstaller(), 0)
	if m == nil {
		t.Fatal("expected a match")
	}
	// 150 direct + 100 capacity + 40 price headroom + 85 quality
	if m.Score != 375 {
		t.Fatalf("expected score 375, got %v", m.Score)
	}
	if m.DistanceKm != 0 {
		t.Fatalf("expected distance 0 for direct service, got %v", m.DistanceKm)
	}
	if m.Reasons[0] != "Services postcode directly" {
		t.Fatalf("unexpected first reason %q", m.Reasons[0])
	}
}

func TestScoreRadius(t *testing.T) {
	inst := directInstaller()
	inst.ServicePostcodes = nil
	inst.Latitude, inst.Longitude = ptr(-28.0167), ptr(153.4000)
	inst.ServiceRadiusKm = 100

	m := Score(brisbaneLead(), inst, 10)
	if m == nil {
		t.Fatal("expected a match within radius")
	}
	if m.DistanceKm < 65 || m.DistanceKm > 80 {
		t.Fatalf("unexpected distance %v", m.DistanceKm)
	}
	want := (100 - m.DistanceKm) + 80 + 40 + 85
	if diff := m.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected score %v, got %v", want, m.Score)
	}
	if !strings.HasPrefix(m.Reasons[0], "Within ") {
		t.Fatalf("unexpected reason %q", m.Reasons[0])
	}

	inst.ServiceRadiusKm = 50
	if Score(brisbaneLead(), inst, 0) != nil {
		t.Fatal("expected nil outside the service radius")
	}
}

func TestScoreIneligible(t *testing.T) {
	cases := map[string]func(*domain.Lead, *domain.Installer, *int){
		"inactive":         func(_ *domain.Lead, i *domain.Installer, _ *int) { i.IsActive = false },
		"unverified":       func(_ *domain.Lead, i *domain.Installer, _ *int) { i.IsVerified = false },
		"other state":      func(_ *domain.Lead, i *domain.Installer, _ *int) { i.State = "NSW" },
		"at capacity":      func(_ *domain.Lead, _ *domain.Installer, n *int) { *n = 50 },
		"too expensive":    func(l *domain.Lead, _ *domain.Installer, _ *int) { l.BasePrice = 101 },
		"no coordinates":   func(l *domain.Lead, i *domain.Installer, _ *int) { i.ServicePostcodes = nil; l.Latitude = nil },
		"installer no geo": func(_ *domain.Lead, i *domain.Installer, _ *int) { i.ServicePostcodes = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			lead, inst, count := brisbaneLead(), directInstaller(), 0
			mutate(&lead, &inst, &count)
			if m := Score(lead, inst, count); m != nil {
				t.Fatalf("expected nil, got score %v", m.Score)
			}
		})
	}
}

func TestMonthStart(t *testing.T) {
	now := time.Date(2026, 3, 17, 15, 4, 5, 0, time.UTC)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := MonthStart(now); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
