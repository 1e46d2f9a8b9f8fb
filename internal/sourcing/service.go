// Package sourcing tops up the lead pool with AI-generated candidates on a
// slow cadence.
package sourcing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"solar_leads_backend/internal/activity"
	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/pricing"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/logger"
	"solar_leads_backend/platform/phone"
	"solar_leads_backend/platform/sanitize"
	"solar_leads_backend/platform/validator"
)

const (
	// Source tags leads created by the top-up.
	Source = "ai_generated"

	// CadenceHours is the hour-of-day divisor that gates a run.
	CadenceHours = 4

	defaultBatchSize = 5
	maxBatchSize     = 25
)

const systemPrompt = `You generate realistic solar installation leads for Australian homeowners and businesses.
Prefer sunny suburbs, owner-occupied properties and realistic system sizes (residential 5-15 kW, commercial 20-100 kW).
Quality scores range 70-95. Phone numbers use the 04XX XXX XXX format.
Answer with JSON only.`

// Generator produces model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Repository is the persistence the top-up needs.
type Repository interface {
	repository.LeadReader
	repository.LeadWriter
}

// Config is the subset of configuration the top-up reads.
type Config interface {
	GetSourcingBatchSize() int
	GetLeadTTL() time.Duration
	GetSourcingLocation() *time.Location
}

// Candidate is one generated lead before validation.
type Candidate struct {
	CustomerName        string   `json:"customerName" validate:"required,min=2,max=120"`
	CustomerPhone       string   `json:"customerPhone" validate:"required"`
	CustomerEmail       string   `json:"customerEmail" validate:"omitempty,email"`
	Suburb              string   `json:"suburb" validate:"required"`
	State               string   `json:"state" validate:"required,au_state"`
	Postcode            string   `json:"postcode" validate:"required,au_postcode"`
	PropertyType        string   `json:"propertyType" validate:"required,oneof=residential commercial industrial"`
	EstimatedSystemSize *float64 `json:"estimatedSystemSize" validate:"omitempty,gt=0,lte=1000"`
	QualityScore        int      `json:"qualityScore" validate:"gte=0,lte=100"`
}

type batch struct {
	Leads []Candidate `json:"leads"`
}

// Result tallies one top-up.
type Result struct {
	Generated  int `json:"generated"`
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// Service is the AI lead top-up.
type Service struct {
	repo     Repository
	gen      Generator
	recorder *activity.Recorder
	val      *validator.Validator
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// New creates the top-up. gen may be nil, which disables it.
func New(repo Repository, gen Generator, recorder *activity.Recorder, val *validator.Validator, cfg Config, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		gen:      gen,
		recorder: recorder,
		val:      val,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ShouldRun reports whether a cycle at t runs the top-up. The hour is read on
// the configured local wall clock.
func (s *Service) ShouldRun(t time.Time) bool {
	if s == nil || s.gen == nil {
		return false
	}
	loc := s.cfg.GetSourcingLocation()
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Hour()%CadenceHours == 0
}

// TopUp generates, filters and saves one batch of leads.
func (s *Service) TopUp(ctx context.Context) (Result, error) {
	var res Result
	started := s.now()

	if s.gen == nil {
		return res, errors.New("lead sourcing is not configured")
	}

	size := s.batchSize()
	text, err := s.gen.Generate(ctx, systemPrompt, buildPrompt(size))
	if err != nil {
		s.recordRun(ctx, started, res, err)
		return res, err
	}

	candidates, err := parseCandidates(text)
	if err != nil {
		s.recordRun(ctx, started, res, err)
		return res, err
	}
	if len(candidates) > size {
		candidates = candidates[:size]
	}
	res.Generated = len(candidates)

	for _, c := range candidates {
		lead, ok := s.toLead(c)
		if !ok {
			res.Rejected++
			continue
		}
		exists, err := s.repo.LeadContactExists(ctx, lead.CustomerEmail, lead.CustomerPhone)
		if err != nil {
			s.log.Error("lead dedup check failed", "error", err)
			res.Rejected++
			continue
		}
		if exists {
			res.Duplicates++
			continue
		}
		if _, err := s.repo.CreateLead(ctx, lead); err != nil {
			s.log.Error("save generated lead failed", "suburb", lead.Suburb, "error", err)
			res.Rejected++
			continue
		}
		res.Saved++
	}

	s.recordRun(ctx, started, res, nil)
	s.log.Info("lead top-up complete",
		"generated", res.Generated,
		"saved", res.Saved,
		"duplicates", res.Duplicates,
		"rejected", res.Rejected,
	)
	return res, nil
}

func (s *Service) batchSize() int {
	size := s.cfg.GetSourcingBatchSize()
	if size <= 0 {
		return defaultBatchSize
	}
	if size > maxBatchSize {
		return maxBatchSize
	}
	return size
}

func (s *Service) toLead(c Candidate) (domain.Lead, bool) {
	c.CustomerName = sanitize.Field(c.CustomerName, 120)
	c.Suburb = sanitize.Field(c.Suburb, 80)
	c.State = strings.ToUpper(strings.TrimSpace(c.State))
	c.Postcode = strings.TrimSpace(c.Postcode)
	c.PropertyType = strings.ToLower(strings.TrimSpace(c.PropertyType))
	if err := s.val.Struct(c); err != nil {
		s.log.Debug("dropping malformed candidate", "error", err)
		return domain.Lead{}, false
	}

	normalized := phone.NormalizeE164(c.CustomerPhone)
	if !strings.HasPrefix(normalized, "+61") {
		return domain.Lead{}, false
	}

	now := s.now().UTC()
	expires := now.Add(s.cfg.GetLeadTTL())
	propertyType := domain.PropertyType(c.PropertyType)
	leadType := domain.LeadTypeStandard
	if propertyType != domain.PropertyResidential {
		leadType = domain.LeadTypeCommercial
	}

	return domain.Lead{
		Source:              Source,
		CustomerName:        c.CustomerName,
		CustomerEmail:       strings.ToLower(strings.TrimSpace(c.CustomerEmail)),
		CustomerPhone:       normalized,
		Suburb:              c.Suburb,
		State:               c.State,
		Postcode:            c.Postcode,
		PropertyType:        propertyType,
		LeadType:            leadType,
		EstimatedSystemSize: c.EstimatedSystemSize,
		QualityScore:        c.QualityScore,
		BasePrice:           pricing.BasePrice(c.QualityScore, propertyType, c.EstimatedSystemSize),
		Status:              domain.LeadNew,
		ExpiresAt:           &expires,
		CreatedAt:           now,
	}, true
}

func (s *Service) recordRun(ctx context.Context, started time.Time, res Result, err error) {
	desc := fmt.Sprintf("AI generated %d leads, saved %d", res.Generated, res.Saved)
	if err != nil {
		desc = "AI lead generation failed"
	}
	s.recorder.Record(ctx, activity.Entry{
		Type:           activity.TypeLeadSourcing,
		Description:    desc,
		StartedAt:      started,
		Err:            err,
		LeadsGenerated: res.Generated,
		LeadsQualified: res.Saved,
		Metadata: map[string]any{
			"source":     Source,
			"duplicates": res.Duplicates,
			"rejected":   res.Rejected,
		},
	})
}

func buildPrompt(n int) string {
	return fmt.Sprintf(`Generate %d solar installation leads across all Australian states.
Return {"leads":[{"customerName":"","customerPhone":"","customerEmail":"","suburb":"","state":"QLD","postcode":"4000","propertyType":"residential","estimatedSystemSize":6.6,"qualityScore":85}]}`, n)
}

// parseCandidates accepts the wrapped object, a bare array, or either inside
// a fenced code block.
func parseCandidates(text string) ([]Candidate, error) {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	if strings.HasPrefix(body, "[") {
		var list []Candidate
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, fmt.Errorf("decode generated leads: %w", err)
		}
		return list, nil
	}
	var b batch
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return nil, fmt.Errorf("decode generated leads: %w", err)
	}
	return b.Leads, nil
}
