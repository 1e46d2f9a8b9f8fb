package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultMatchLimit is the shortlist size used when callers pass zero.
const DefaultMatchLimit = 5

// Repository is the persistence the matcher needs.
type Repository interface {
	repository.LeadReader
	repository.LeadWriter
	repository.InstallerReader
	repository.OfferReader
	repository.OfferWriter
}

// Service is the matcher.
type Service struct {
	repo     Repository
	eventBus events.Bus
	cfg      config.OfferConfig
	log      *logger.Logger
	now      func() time.Time
}

// New creates a matcher.
func New(repo Repository, eventBus events.Bus, cfg config.OfferConfig, log *logger.Logger) *Service {
	return &Service{repo: repo, eventBus: eventBus, cfg: cfg, log: log, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// FindMatches scores every active installer and returns the best limit results, highest first.
func (s *Service) FindMatches(ctx context.Context, lead domain.Lead, limit int) ([]MatchResult, error) {
	if limit <= 0 {
		limit = DefaultMatchLimit
	}
	matches, err := s.rank(ctx, lead)
	if err != nil {
		return nil, err
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// rank scores every active installer and sorts the eligible ones, highest first.
func (s *Service) rank(ctx context.Context, lead domain.Lead) ([]MatchResult, error) {
	installers, err := s.repo.ListActiveInstallers(ctx)
	if err != nil {
		return nil, err
	}

	since := MonthStart(s.now())
	matches := make([]MatchResult, 0, len(installers))
	for _, inst := range installers {
		if !inst.Eligible() || inst.State != lead.State {
			continue
		}
		count, err := s.repo.CountAcceptedOffersSince(ctx, inst.ID, since)
		if err != nil {
			return nil, err
		}
		if m := Score(lead, inst, count); m != nil {
			matches = append(matches, *m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// CreateOffersForLead offers the lead to the best installers that were never
// offered it before, up to DefaultMatchLimit. The lead moves new -> offered when
// at least one offer was created.
func (s *Service) CreateOffersForLead(ctx context.Context, lead domain.Lead) (int, error) {
	matches, err := s.rank(ctx, lead)
	if err != nil {
		return 0, fmt.Errorf("find matches: %w", err)
	}
	if len(matches) == 0 {
		s.log.Info("no matching installers", "leadId", lead.ID)
		return 0, nil
	}

	existing, err := s.repo.ListOffersByLead(ctx, lead.ID)
	if err != nil {
		return 0, fmt.Errorf("list offers: %w", err)
	}
	offered := make(map[uuid.UUID]bool, len(existing))
	for _, o := range existing {
		offered[o.InstallerID] = true
	}

	now := s.now().UTC()
	created := 0
	for _, m := range matches {
		if created >= DefaultMatchLimit {
			break
		}
		if offered[m.Installer.ID] {
			continue
		}
		offer, err := s.repo.CreateOffer(ctx, domain.Offer{
			LeadID:      lead.ID,
			InstallerID: m.Installer.ID,
			OfferPrice:  lead.BasePrice,
			DistanceKm:  int(math.Round(m.DistanceKm)),
			Status:      domain.OfferPending,
			SentAt:      now,
			ExpiresAt:   now.Add(s.cfg.GetOfferTTL()),
		})
		if apperr.Is(err, apperr.KindConflict) {
			continue
		}
		if err != nil {
			s.log.Error("create offer failed", "leadId", lead.ID, "installerId", m.Installer.ID, "error", err)
			continue
		}
		created++
		s.log.Info("offer created", "leadId", lead.ID, "installerId", m.Installer.ID, "offerId", offer.ID, "score", m.Score)
		s.eventBus.Publish(ctx, events.OfferCreated{
			BaseEvent:   events.NewBaseEvent(),
			OfferID:     offer.ID,
			LeadID:      lead.ID,
			InstallerID: m.Installer.ID,
			Price:       offer.OfferPrice,
			DistanceKm:  offer.DistanceKm,
			Suburb:      lead.Suburb,
			Postcode:    lead.Postcode,
			State:       lead.State,
		})
	}

	if created > 0 && lead.Status == domain.LeadNew {
		err := s.repo.TransitionLead(ctx, lead.ID, domain.LeadNew, domain.LeadOffered)
		if err != nil && !apperr.Is(err, apperr.KindConflict) {
			return created, fmt.Errorf("mark lead offered: %w", err)
		}
		if err == nil {
			s.eventBus.Publish(ctx, events.LeadOffered{
				BaseEvent:     events.NewBaseEvent(),
				LeadID:        lead.ID,
				OffersCreated: created,
			})
		}
	}
	return created, nil
}

// BatchResult is the tally of one ProcessNewLeads run.
type BatchResult struct {
	Processed     int `json:"processed"`
	OffersCreated int `json:"offersCreated"`
	Failed        int `json:"failed"`
}

// ProcessNewLeads offers every lead in status new. Leads are handled concurrently up
// to the configured limit; one lead failing does not stop the rest.
func (s *Service) ProcessNewLeads(ctx context.Context) (BatchResult, error) {
	leads, err := s.repo.ListLeadsByStatus(ctx, domain.LeadNew, 0)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list new leads: %w", err)
	}

	var processed, offers, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.GetMatchConcurrency()))
	for _, lead := range leads {
		g.Go(func() error {
			n, err := s.CreateOffersForLead(gctx, lead)
			if err != nil {
				failed.Add(1)
				s.log.Error("process lead failed", "leadId", lead.ID, "error", err)
				return nil
			}
			if n > 0 {
				processed.Add(1)
				offers.Add(int64(n))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{
		Processed:     int(processed.Load()),
		OffersCreated: int(offers.Load()),
		Failed:        int(failed.Load()),
	}
	s.log.Info("processed new leads", "processed", res.Processed, "offersCreated", res.OffersCreated, "failed", res.Failed)
	return res, nil
}
