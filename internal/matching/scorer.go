// Package matching scores installers against a lead and turns the best
// candidates into pending offers.
package matching

import (
	"fmt"
	"math"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/geo"
)

// DirectServiceBonus is awarded when the installer lists the lead's postcode.
const DirectServiceBonus = 150

// MatchResult is one eligible installer with its score.
type MatchResult struct {
	Installer  domain.Installer `json:"installer"`
	Score      float64          `json:"score"`
	DistanceKm float64          `json:"distanceKm"`
	Reasons    []string         `json:"reasons"`
}

// MonthStart returns 00:00 on the first day of now's month, in now's location.
func MonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

// Score returns nil when the installer cannot take the lead. monthlyAccepted is the
// installer's count of accepted offers since MonthStart.
func Score(lead domain.Lead, inst domain.Installer, monthlyAccepted int) *MatchResult {
	if !inst.Eligible() {
		return nil
	}
	if inst.State != lead.State {
		return nil
	}

	result := &MatchResult{Installer: inst}

	if inst.ServicesPostcode(lead.Postcode) {
		result.Score += DirectServiceBonus
		result.Reasons = append(result.Reasons, "Services postcode directly")
	} else {
		if !inst.HasCoordinates() || !lead.HasCoordinates() {
			return nil
		}
		d := geo.HaversineKm(
			geo.Point{Lat: *inst.Latitude, Lon: *inst.Longitude},
			geo.Point{Lat: *lead.Latitude, Lon: *lead.Longitude},
		)
		if d > float64(inst.ServiceRadiusKm) {
			return nil
		}
		result.DistanceKm = d
		result.Score += math.Max(0, 100-d)
		result.Reasons = append(result.Reasons, fmt.Sprintf("Within %dkm radius", int(math.Round(d))))
	}

	if monthlyAccepted >= inst.MaxLeadsPerMonth {
		return nil
	}
	remaining := inst.MaxLeadsPerMonth - monthlyAccepted
	result.Score += float64(remaining * 2)
	result.Reasons = append(result.Reasons, fmt.Sprintf("%d leads remaining this month", remaining))

	if lead.BasePrice > inst.MaxLeadPrice {
		return nil
	}
	result.Score += float64(inst.MaxLeadPrice - lead.BasePrice)
	result.Reasons = append(result.Reasons, fmt.Sprintf("Lead price $%d (max $%d)", lead.BasePrice, inst.MaxLeadPrice))

	result.Score += float64(lead.QualityScore)
	result.Reasons = append(result.Reasons, fmt.Sprintf("Lead quality score: %d/100", lead.QualityScore))

	return result
}
