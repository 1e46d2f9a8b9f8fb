// Package leads takes leads in from sourcing collaborators and exposes
// read-only match and price previews.
package leads

import (
	"context"
	"strings"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/matching"
	"solar_leads_backend/internal/pricing"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/logger"
	"solar_leads_backend/platform/phone"
	"solar_leads_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Repository is the persistence intake needs.
type Repository interface {
	repository.LeadReader
	repository.LeadWriter
}

// Matcher previews the installer shortlist for a lead.
type Matcher interface {
	FindMatches(ctx context.Context, lead domain.Lead, limit int) ([]matching.MatchResult, error)
}

// Config is the subset of configuration intake reads.
type Config interface {
	GetLeadTTL() time.Duration
}

// CreateParams is a validated intake request.
type CreateParams struct {
	Source              string
	CustomerName        string
	CustomerEmail       string
	CustomerPhone       string
	Suburb              string
	State               string
	Postcode            string
	Latitude            *float64
	Longitude           *float64
	PropertyType        domain.PropertyType
	LeadType            domain.LeadType
	EstimatedSystemSize *float64
	QualityScore        int
	// EstimatedValue, when set, lists the lead as a timed auction.
	EstimatedValue *int64
}

// Service handles lead intake.
type Service struct {
	repo     Repository
	matcher  Matcher
	engine   *pricing.Engine
	eventBus events.Bus
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

func New(repo Repository, matcher Matcher, engine *pricing.Engine, eventBus events.Bus, cfg Config, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		matcher:  matcher,
		engine:   engine,
		eventBus: eventBus,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create prices and stores a new lead. A lead whose email or phone is
// already on file is a Conflict.
func (s *Service) Create(ctx context.Context, p CreateParams) (domain.Lead, error) {
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return domain.Lead{}, apperr.Validation("latitude and longitude must be given together")
	}

	p.CustomerPhone = phone.NormalizeE164(p.CustomerPhone)
	p.CustomerEmail = strings.ToLower(strings.TrimSpace(p.CustomerEmail))

	exists, err := s.repo.LeadContactExists(ctx, p.CustomerEmail, p.CustomerPhone)
	if err != nil {
		return domain.Lead{}, err
	}
	if exists {
		return domain.Lead{}, apperr.Conflict("a lead with this contact already exists")
	}

	if p.PropertyType == "" {
		p.PropertyType = domain.PropertyResidential
	}
	if p.LeadType == "" {
		p.LeadType = domain.LeadTypeStandard
	}

	now := s.now().UTC()
	expires := now.Add(s.cfg.GetLeadTTL())
	lead := domain.Lead{
		Source:              p.Source,
		CustomerName:        sanitize.Field(p.CustomerName, 120),
		CustomerEmail:       p.CustomerEmail,
		CustomerPhone:       p.CustomerPhone,
		Suburb:              sanitize.Field(p.Suburb, 80),
		State:               strings.ToUpper(p.State),
		Postcode:            p.Postcode,
		Latitude:            p.Latitude,
		Longitude:           p.Longitude,
		PropertyType:        p.PropertyType,
		LeadType:            p.LeadType,
		EstimatedSystemSize: p.EstimatedSystemSize,
		QualityScore:        p.QualityScore,
		BasePrice:           pricing.BasePrice(p.QualityScore, p.PropertyType, p.EstimatedSystemSize),
		Status:              domain.LeadNew,
		ExpiresAt:           &expires,
		CreatedAt:           now,
	}

	if p.EstimatedValue != nil {
		auction := pricing.NewAuction(uuid.Nil, *p.EstimatedValue, now)
		lead.IsAuctionLead = true
		lead.AuctionStartPrice = &auction.StartPrice
		lead.AuctionEndTime = &auction.EndsAt
	}

	created, err := s.repo.CreateLead(ctx, lead)
	if err != nil {
		return domain.Lead{}, err
	}

	s.eventBus.Publish(ctx, events.LeadCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    created.ID,
		Source:    created.Source,
		BasePrice: created.BasePrice,
		Auction:   created.IsAuctionLead,
	})
	s.log.Info("lead created", "leadId", created.ID, "basePrice", created.BasePrice, "auction", created.IsAuctionLead)
	return created, nil
}

// Get returns one lead.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	return s.repo.GetLeadByID(ctx, id)
}

// Matches previews the installers the matcher would offer the lead to.
func (s *Service) Matches(ctx context.Context, id uuid.UUID, limit int) ([]matching.MatchResult, error) {
	lead, err := s.repo.GetLeadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.matcher.FindMatches(ctx, lead, limit)
}

// Price quotes the lead's dynamic price plus any enrichment add-ons.
func (s *Service) Price(ctx context.Context, id uuid.UUID, features []string) (pricing.LeadQuote, error) {
	lead, err := s.repo.GetLeadByID(ctx, id)
	if err != nil {
		return pricing.LeadQuote{}, err
	}
	return s.engine.QuoteLead(lead, features, s.now())
}
