// Package pricing computes lead prices. Every function is pure and returns
// whole-dollar amounts; multipliers use decimal arithmetic.
package pricing

import (
	"fmt"
	"sort"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	freshPremium      = decimal.RequireFromString("1.2")
	clearanceDiscount = decimal.RequireFromString("0.9")
	commercialFactor  = decimal.NewFromInt(4)
	industrialFactor  = decimal.NewFromInt(5)
	batteryFactor     = decimal.RequireFromString("2.5")

	resaleFactor       = decimal.RequireFromString("0.5")
	auctionStartFactor = decimal.RequireFromString("0.7")
	auctionIncrement   = decimal.RequireFromString("0.05")
)

const (
	// LargeSystemKw is the estimated system size from which a residential
	// lead is priced on the large-system formula.
	LargeSystemKw = 10.0

	// AuctionDuration is how long a lead auction accepts bids.
	AuctionDuration = 2 * time.Hour
)

// BasePrice derives a lead's base price from its quality score. Exactly one
// formula applies: commercial and industrial first, then large residential
// systems, then standard residential.
func BasePrice(qualityScore int, propertyType domain.PropertyType, systemSizeKw *float64) int64 {
	q := decimal.NewFromInt(int64(qualityScore)).Div(hundred)

	var floor, span int64
	switch {
	case propertyType == domain.PropertyCommercial || propertyType == domain.PropertyIndustrial:
		floor, span = 150, 150
	case systemSizeKw != nil && *systemSizeKw >= LargeSystemKw:
		floor, span = 90, 60
	default:
		floor, span = 60, 60
	}
	return decimal.NewFromInt(floor).Add(q.Mul(decimal.NewFromInt(span))).Round(0).IntPart()
}

// UrgencyPrice applies the fresh-lead premium or the clearance discount
// based on the lead's age in whole hours.
func UrgencyPrice(base int64, createdAt, now time.Time) int64 {
	ageHours := int64(now.Sub(createdAt) / time.Hour)
	switch {
	case ageHours < 1:
		return multiplyFloor(base, freshPremium)
	case ageHours >= 6 && ageHours < 24:
		return multiplyFloor(base, clearanceDiscount)
	default:
		return base
	}
}

// CommercialPrice applies the property-class multiplier.
func CommercialPrice(base int64, propertyType domain.PropertyType) int64 {
	switch propertyType {
	case domain.PropertyCommercial:
		return multiplyFloor(base, commercialFactor)
	case domain.PropertyIndustrial:
		return multiplyFloor(base, industrialFactor)
	default:
		return base
	}
}

// BatteryPrice applies the battery-storage premium.
func BatteryPrice(base int64, leadType domain.LeadType) int64 {
	if leadType == domain.LeadTypeBatteryStorage {
		return multiplyFloor(base, batteryFactor)
	}
	return base
}

// DynamicPrice composes the property-class, battery and urgency adjustments
// over a base price, in that order.
func DynamicPrice(base int64, propertyType domain.PropertyType, leadType domain.LeadType, createdAt, now time.Time) int64 {
	price := CommercialPrice(base, propertyType)
	price = BatteryPrice(price, leadType)
	return UrgencyPrice(price, createdAt, now)
}

// DefaultResaleBase stands in for a missing base price when reselling.
const DefaultResaleBase = 50

// ResalePrice is half the original base price, floored.
func ResalePrice(base int64) int64 {
	if base <= 0 {
		base = DefaultResaleBase
	}
	return multiplyFloor(base, resaleFactor)
}

func multiplyFloor(amount int64, factor decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(factor).Floor().IntPart()
}

// Tier is a lead quality tier with a price multiplier.
type Tier struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Multiplier          float64 `json:"multiplier"`
	MinimumQualityScore int     `json:"minimumQualityScore"`
}

// SubscriptionPlan discounts leads bought on top of a monthly plan.
type SubscriptionPlan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MonthlyFee      int64  `json:"monthlyFee"`
	LeadsIncluded   int    `json:"leadsIncluded"`
	DiscountPercent int64  `json:"discountPercent"`
}

var tiers = map[string]Tier{
	"standard": {ID: "standard", Name: "Standard", Multiplier: 1.0, MinimumQualityScore: 70},
	"premium":  {ID: "premium", Name: "Premium", Multiplier: 1.5, MinimumQualityScore: 80},
	"platinum": {ID: "platinum", Name: "Platinum", Multiplier: 2.0, MinimumQualityScore: 90},
}

var plans = map[string]SubscriptionPlan{
	"starter":      {ID: "starter", Name: "Starter Plan", MonthlyFee: 499, LeadsIncluded: 10, DiscountPercent: 15},
	"growth":       {ID: "growth", Name: "Growth Plan", MonthlyFee: 1499, LeadsIncluded: 30, DiscountPercent: 25},
	"professional": {ID: "professional", Name: "Professional Plan", MonthlyFee: 3999, LeadsIncluded: 100, DiscountPercent: 35},
}

// quantityDiscounts is ordered from the largest threshold down.
var quantityDiscounts = []struct {
	minQuantity int
	percent     int64
}{
	{100, 25},
	{50, 20},
	{20, 15},
	{10, 10},
	{5, 5},
}

// QuantityDiscountPercent returns the bulk discount for buying quantity leads.
func QuantityDiscountPercent(quantity int) int64 {
	for _, d := range quantityDiscounts {
		if quantity >= d.minQuantity {
			return d.percent
		}
	}
	return 0
}

// Engine prices with the operator-configurable tables of a policy.
type Engine struct {
	policy *config.Policy
}

func NewEngine(policy *config.Policy) *Engine {
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	return &Engine{policy: policy}
}

// BundleQuote is the price of one fixed bundle.
type BundleQuote struct {
	Type            string `json:"type"`
	Description     string `json:"description"`
	TotalLeads      int64  `json:"totalLeads"`
	DiscountPercent int64  `json:"discountPercent"`
	OriginalPrice   int64  `json:"originalPrice"`
	Discount        int64  `json:"discount"`
	FinalPrice      int64  `json:"finalPrice"`
}

// BundlePrice prices a fixed bundle at an average lead price.
func (e *Engine) BundlePrice(averagePrice int64, bundleType string) (BundleQuote, error) {
	for _, b := range e.policy.Bundles {
		if b.Type != bundleType {
			continue
		}
		original := averagePrice * b.TotalLeads
		discount := decimal.NewFromInt(original).
			Mul(decimal.NewFromInt(b.DiscountPercent)).
			Div(hundred).
			Floor().
			IntPart()
		return BundleQuote{
			Type:            b.Type,
			Description:     b.Description,
			TotalLeads:      b.TotalLeads,
			DiscountPercent: b.DiscountPercent,
			OriginalPrice:   original,
			Discount:        discount,
			FinalPrice:      original - discount,
		}, nil
	}
	return BundleQuote{}, apperr.Validation(fmt.Sprintf("unknown bundle type %q", bundleType))
}

// Bundles prices every configured bundle at an average lead price.
func (e *Engine) Bundles(averagePrice int64) []BundleQuote {
	out := make([]BundleQuote, 0, len(e.policy.Bundles))
	for _, b := range e.policy.Bundles {
		quote, err := e.BundlePrice(averagePrice, b.Type)
		if err != nil {
			continue
		}
		out = append(out, quote)
	}
	return out
}

// EnrichmentPrice sums the add-on fees of the requested features.
func (e *Engine) EnrichmentPrice(features []string) (int64, error) {
	var total int64
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if seen[f] {
			continue
		}
		fee, ok := e.policy.EnrichmentFees[f]
		if !ok {
			return 0, apperr.Validation(fmt.Sprintf("unknown enrichment feature %q", f))
		}
		seen[f] = true
		total += fee
	}
	return total, nil
}

// EnrichmentFeatures lists the configured add-ons in name order.
func (e *Engine) EnrichmentFeatures() []string {
	out := make([]string, 0, len(e.policy.EnrichmentFees))
	for name := range e.policy.EnrichmentFees {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GeographicMultiplier returns the premium for a postcode, 1.0 when none.
func (e *Engine) GeographicMultiplier(postcode string) decimal.Decimal {
	if m, ok := e.policy.PremiumPostcodes[postcode]; ok {
		return decimal.NewFromFloat(m)
	}
	return decimal.NewFromInt(1)
}

// DemandMultiplier returns the multiplier for a demand level.
func (e *Engine) DemandMultiplier(level string) (decimal.Decimal, error) {
	m, ok := e.policy.Demand[level]
	if !ok {
		return decimal.Decimal{}, apperr.Validation(fmt.Sprintf("unknown demand level %q", level))
	}
	return decimal.NewFromFloat(m), nil
}

// ProfitParams selects the optional adjustments of a full price quote.
type ProfitParams struct {
	BasePrice        int64
	Postcode         string
	Tier             string
	SubscriptionPlan string
	DemandLevel      string
	Quantity         int
}

// ProfitBreakdown reports which factor each adjustment contributed.
type ProfitBreakdown struct {
	BasePrice            int64   `json:"basePrice"`
	TierMultiplier       float64 `json:"tierMultiplier"`
	GeographicMultiplier float64 `json:"geographicMultiplier"`
	DemandMultiplier     float64 `json:"demandMultiplier"`
	SubscriptionDiscount int64   `json:"subscriptionDiscount"`
	QuantityDiscount     int64   `json:"quantityDiscount"`
}

type ProfitQuote struct {
	FinalPrice int64           `json:"finalPrice"`
	Breakdown  ProfitBreakdown `json:"breakdown"`
}

// MaximumProfitPrice applies tier, postcode, demand, subscription and
// quantity adjustments in that order and rounds once at the end. Unknown
// tiers and plans are ignored.
func (e *Engine) MaximumProfitPrice(p ProfitParams) (ProfitQuote, error) {
	one := decimal.NewFromInt(1)
	price := decimal.NewFromInt(p.BasePrice)
	bd := ProfitBreakdown{
		BasePrice:            p.BasePrice,
		TierMultiplier:       1,
		GeographicMultiplier: 1,
		DemandMultiplier:     1,
	}

	if t, ok := tiers[p.Tier]; ok {
		bd.TierMultiplier = t.Multiplier
		price = price.Mul(decimal.NewFromFloat(t.Multiplier))
	}

	geo := e.GeographicMultiplier(p.Postcode)
	bd.GeographicMultiplier = geo.InexactFloat64()
	price = price.Mul(geo)

	if p.DemandLevel != "" {
		demand, err := e.DemandMultiplier(p.DemandLevel)
		if err != nil {
			return ProfitQuote{}, err
		}
		bd.DemandMultiplier = demand.InexactFloat64()
		price = price.Mul(demand)
	}

	if plan, ok := plans[p.SubscriptionPlan]; ok {
		bd.SubscriptionDiscount = plan.DiscountPercent
		price = price.Mul(one.Sub(decimal.NewFromInt(plan.DiscountPercent).Div(hundred)))
	}

	if pct := QuantityDiscountPercent(p.Quantity); pct > 0 {
		bd.QuantityDiscount = pct
		price = price.Mul(one.Sub(decimal.NewFromInt(pct).Div(hundred)))
	}

	return ProfitQuote{FinalPrice: price.Round(0).IntPart(), Breakdown: bd}, nil
}

// Tiers lists the pricing tiers by multiplier.
func Tiers() []Tier {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Multiplier < out[j].Multiplier })
	return out
}

// Auction is the opening state of a lead auction.
type Auction struct {
	LeadID       uuid.UUID `json:"leadId"`
	StartPrice   int64     `json:"startPrice"`
	MinIncrement int64     `json:"minIncrement"`
	EndsAt       time.Time `json:"endsAt"`
}

// NewAuction opens bidding at 70% of the estimated value with a 5% minimum
// increment over the start price.
func NewAuction(leadID uuid.UUID, estimatedValue int64, now time.Time) Auction {
	start := multiplyFloor(estimatedValue, auctionStartFactor)
	increment := decimal.NewFromInt(start).Mul(auctionIncrement).Round(0).IntPart()
	if increment < 1 {
		increment = 1
	}
	return Auction{
		LeadID:       leadID,
		StartPrice:   start,
		MinIncrement: increment,
		EndsAt:       now.Add(AuctionDuration),
	}
}

// LeadQuote is the current price of one lead.
type LeadQuote struct {
	LeadID       uuid.UUID `json:"leadId"`
	BasePrice    int64     `json:"basePrice"`
	DynamicPrice int64     `json:"dynamicPrice"`
	Enrichment   int64     `json:"enrichment"`
	Features     []string  `json:"features"`
	Total        int64     `json:"total"`
}

// QuoteLead prices a lead as of now, adding enrichment fees for features.
func (e *Engine) QuoteLead(lead domain.Lead, features []string, now time.Time) (LeadQuote, error) {
	enrichment, err := e.EnrichmentPrice(features)
	if err != nil {
		return LeadQuote{}, err
	}
	dynamic := DynamicPrice(lead.BasePrice, lead.PropertyType, lead.LeadType, lead.CreatedAt, now)
	if features == nil {
		features = []string{}
	}
	return LeadQuote{
		LeadID:       lead.ID,
		BasePrice:    lead.BasePrice,
		DynamicPrice: dynamic,
		Enrichment:   enrichment,
		Features:     features,
		Total:        dynamic + enrichment,
	}, nil
}
