package pricing

import (
	"testing"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestBasePrice(t *testing.T) {
	cases := []struct {
		name     string
		quality  int
		property domain.PropertyType
		sizeKw   *float64
		want     int64
	}{
		{"residential", 85, domain.PropertyResidential, nil, 111},
		{"residential floor", 0, domain.PropertyResidential, nil, 60},
		{"residential ceiling", 100, domain.PropertyResidential, nil, 120},
		{"large residential system", 75, domain.PropertyResidential, ptr(12.0), 135},
		{"large system boundary", 50, domain.PropertyResidential, ptr(10.0), 120},
		{"small system", 50, domain.PropertyResidential, ptr(9.9), 90},
		{"commercial", 50, domain.PropertyCommercial, nil, 225},
		{"commercial rounds half up", 1, domain.PropertyCommercial, nil, 152},
		{"industrial ignores system size", 100, domain.PropertyIndustrial, ptr(40.0), 300},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, BasePrice(tc.quality, tc.property, tc.sizeKw))
		})
	}
}

func TestUrgencyPrice(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		age  time.Duration
		want int64
	}{
		{30 * time.Minute, 120},
		{59 * time.Minute, 120},
		{time.Hour, 100},
		{3 * time.Hour, 100},
		{6 * time.Hour, 90},
		{12 * time.Hour, 90},
		{23*time.Hour + 59*time.Minute, 90},
		{24 * time.Hour, 100},
		{72 * time.Hour, 100},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, UrgencyPrice(100, now.Add(-tc.age), now), "age %s", tc.age)
	}
}

func TestUrgencyPriceFloors(t *testing.T) {
	now := time.Now()
	require.Equal(t, int64(73), UrgencyPrice(61, now.Add(-10*time.Minute), now))
	require.Equal(t, int64(54), UrgencyPrice(61, now.Add(-8*time.Hour), now))
}

func TestCommercialAndBatteryPrice(t *testing.T) {
	require.Equal(t, int64(240), CommercialPrice(60, domain.PropertyCommercial))
	require.Equal(t, int64(300), CommercialPrice(60, domain.PropertyIndustrial))
	require.Equal(t, int64(60), CommercialPrice(60, domain.PropertyResidential))

	require.Equal(t, int64(150), BatteryPrice(60, domain.LeadTypeBatteryStorage))
	require.Equal(t, int64(152), BatteryPrice(61, domain.LeadTypeBatteryStorage))
	require.Equal(t, int64(60), BatteryPrice(60, domain.LeadTypeStandard))
}

func TestDynamicPriceComposesInOrder(t *testing.T) {
	now := time.Now()
	got := DynamicPrice(60, domain.PropertyCommercial, domain.LeadTypeBatteryStorage, now.Add(-30*time.Minute), now)
	require.Equal(t, int64(720), got)

	got = DynamicPrice(61, domain.PropertyResidential, domain.LeadTypeBatteryStorage, now.Add(-8*time.Hour), now)
	require.Equal(t, int64(136), got, "floor after each step: 61 -> 152 -> 136")
}

func TestBundlePrice(t *testing.T) {
	engine := NewEngine(nil)

	quote, err := engine.BundlePrice(60, "buy5get1")
	require.NoError(t, err)
	require.Equal(t, int64(360), quote.OriginalPrice)
	require.Equal(t, int64(61), quote.Discount)
	require.Equal(t, int64(299), quote.FinalPrice)

	quote, err = engine.BundlePrice(60, "monthly30")
	require.NoError(t, err)
	require.Equal(t, int64(1800), quote.OriginalPrice)
	require.Equal(t, int64(360), quote.Discount)
	require.Equal(t, int64(1440), quote.FinalPrice)

	quote, err = engine.BundlePrice(60, "weekly10")
	require.NoError(t, err)
	require.Equal(t, int64(540), quote.FinalPrice)

	_, err = engine.BundlePrice(60, "yearly")
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestBundlesUsesPolicy(t *testing.T) {
	policy, err := config.ParsePolicy([]byte(`
bundles:
  - type: starter3
    total_leads: 3
    discount_percent: 5
`))
	require.NoError(t, err)

	quotes := NewEngine(policy).Bundles(100)
	require.Len(t, quotes, 1)
	require.Equal(t, "starter3", quotes[0].Type)
	require.Equal(t, int64(285), quotes[0].FinalPrice)
}

func TestEnrichmentPrice(t *testing.T) {
	engine := NewEngine(nil)

	total, err := engine.EnrichmentPrice([]string{"phone_verification", "credit_check"})
	require.NoError(t, err)
	require.Equal(t, int64(25), total)

	total, err = engine.EnrichmentPrice(engine.EnrichmentFeatures())
	require.NoError(t, err)
	require.Equal(t, int64(40), total)

	total, err = engine.EnrichmentPrice([]string{"roof_analysis", "roof_analysis"})
	require.NoError(t, err)
	require.Equal(t, int64(10), total)

	_, err = engine.EnrichmentPrice([]string{"drone_survey"})
	require.Error(t, err)
}

func TestQuantityDiscountPercent(t *testing.T) {
	cases := map[int]int64{0: 0, 4: 0, 5: 5, 9: 5, 10: 10, 20: 15, 49: 15, 50: 20, 99: 20, 100: 25, 500: 25}
	for qty, want := range cases {
		require.Equal(t, want, QuantityDiscountPercent(qty), "quantity %d", qty)
	}
}

func TestMaximumProfitPrice(t *testing.T) {
	engine := NewEngine(nil)

	quote, err := engine.MaximumProfitPrice(ProfitParams{
		BasePrice:        100,
		Postcode:         "3142",
		Tier:             "premium",
		SubscriptionPlan: "growth",
		DemandLevel:      "high",
		Quantity:         10,
	})
	require.NoError(t, err)
	require.Equal(t, int64(170), quote.FinalPrice)
	require.Equal(t, 1.5, quote.Breakdown.TierMultiplier)
	require.Equal(t, 1.4, quote.Breakdown.GeographicMultiplier)
	require.Equal(t, int64(25), quote.Breakdown.SubscriptionDiscount)
	require.Equal(t, int64(10), quote.Breakdown.QuantityDiscount)

	quote, err = engine.MaximumProfitPrice(ProfitParams{BasePrice: 80, Postcode: "9999", Tier: "gold"})
	require.NoError(t, err)
	require.Equal(t, int64(80), quote.FinalPrice)

	_, err = engine.MaximumProfitPrice(ProfitParams{BasePrice: 80, DemandLevel: "extreme"})
	require.Error(t, err)
}

func TestNewAuction(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	id := uuid.New()

	auction := NewAuction(id, 100, now)
	require.Equal(t, id, auction.LeadID)
	require.Equal(t, int64(70), auction.StartPrice)
	require.Equal(t, int64(4), auction.MinIncrement)
	require.Equal(t, now.Add(2*time.Hour), auction.EndsAt)

	small := NewAuction(id, 10, now)
	require.Equal(t, int64(7), small.StartPrice)
	require.Equal(t, int64(1), small.MinIncrement)
}

func TestQuoteLead(t *testing.T) {
	now := time.Now()
	lead := domain.Lead{
		ID:           uuid.New(),
		BasePrice:    100,
		PropertyType: domain.PropertyResidential,
		LeadType:     domain.LeadTypeStandard,
		CreatedAt:    now.Add(-12 * time.Hour),
	}

	quote, err := NewEngine(nil).QuoteLead(lead, []string{"property_photos"}, now)
	require.NoError(t, err)
	require.Equal(t, int64(90), quote.DynamicPrice)
	require.Equal(t, int64(5), quote.Enrichment)
	require.Equal(t, int64(95), quote.Total)
}

func TestResalePrice(t *testing.T) {
	require.Equal(t, int64(55), ResalePrice(111))
	require.Equal(t, int64(30), ResalePrice(60))
	require.Equal(t, int64(25), ResalePrice(0))
}
