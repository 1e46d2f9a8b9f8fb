package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds pricing tables that operators may override with a YAML file.
type Policy struct {
	Bundles          []BundlePolicy     `yaml:"bundles"`
	EnrichmentFees   map[string]int64   `yaml:"enrichment_fees"`
	PremiumPostcodes map[string]float64 `yaml:"premium_postcodes"`
	Demand           map[string]float64 `yaml:"demand"`
}

// BundlePolicy describes one fixed bundle.
type BundlePolicy struct {
	Type            string `yaml:"type"`
	TotalLeads      int64  `yaml:"total_leads"`
	DiscountPercent int64  `yaml:"discount_percent"`
	Description     string `yaml:"description"`
}

// DefaultPolicy returns the built-in pricing tables.
func DefaultPolicy() *Policy {
	return &Policy{
		Bundles: []BundlePolicy{
			{Type: "buy5get1", TotalLeads: 6, DiscountPercent: 17, Description: "Buy 5 leads, get 1 free"},
			{Type: "weekly10", TotalLeads: 10, DiscountPercent: 10, Description: "Weekly bundle: 10 leads"},
			{Type: "monthly30", TotalLeads: 30, DiscountPercent: 20, Description: "Monthly bundle: 30 leads"},
		},
		EnrichmentFees: map[string]int64{
			"phone_verification": 10,
			"property_photos":    5,
			"roof_analysis":      10,
			"credit_check":       15,
		},
		PremiumPostcodes: map[string]float64{
			"2000": 1.3, "2027": 1.4, "2030": 1.3, "2061": 1.3, "2088": 1.3,
			"3000": 1.3, "3142": 1.4, "3141": 1.3, "3101": 1.3,
			"4000": 1.2, "4005": 1.3, "4007": 1.3, "4066": 1.3,
			"6000": 1.2, "6011": 1.4, "6010": 1.3, "6009": 1.3,
		},
		Demand: map[string]float64{
			"low":    0.9,
			"medium": 1.0,
			"high":   1.2,
			"surge":  1.5,
		},
	}
}

// LoadPolicy reads a YAML policy file. Sections missing from the file keep their defaults.
func LoadPolicy(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes a YAML policy document over the defaults.
func ParsePolicy(raw []byte) (*Policy, error) {
	var parsed Policy
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	policy := DefaultPolicy()
	if len(parsed.Bundles) > 0 {
		for _, b := range parsed.Bundles {
			if b.Type == "" || b.TotalLeads <= 0 || b.DiscountPercent < 0 || b.DiscountPercent >= 100 {
				return nil, fmt.Errorf("invalid bundle %q in policy file", b.Type)
			}
		}
		policy.Bundles = parsed.Bundles
	}
	if len(parsed.EnrichmentFees) > 0 {
		policy.EnrichmentFees = parsed.EnrichmentFees
	}
	if len(parsed.PremiumPostcodes) > 0 {
		policy.PremiumPostcodes = parsed.PremiumPostcodes
	}
	if len(parsed.Demand) > 0 {
		policy.Demand = parsed.Demand
	}
	return policy, nil
}
