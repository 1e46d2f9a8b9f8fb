// Package approval scores installer sign-ups against the business register
// and applies the resulting approve, review or reject decision.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"solar_leads_backend/internal/activity"
	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/repository"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

// Check weights.
const (
	weightABNValid      = 20
	weightABNActive     = 30
	weightGST           = 15
	weightNameMatch     = 15
	weightStateMatch    = 10
	weightCompanyEntity = 10

	// ApproveThreshold and ReviewThreshold split the score into buckets.
	ApproveThreshold = 75
	ReviewThreshold  = 50
)

// Outcomes.
const (
	OutcomeApproved = "approved"
	OutcomePending  = "pending"
	OutcomeRejected = "rejected"
)

const (
	ReasonInvalidFormat = "Invalid ABN format"
	ReasonApproved      = "Auto-approved: All checks passed"
	ReasonPending       = "Pending manual review: Some checks failed"
	ReasonRejected      = "Auto-rejected: Failed critical checks"
)

// companyEntityCodes are registry entity types that denote a company.
var companyEntityCodes = []string{"PRV", "PUB", "LTD", "PTY"}

// Registry looks up business registrations.
type Registry interface {
	Lookup(ctx context.Context, abn string) (*Entity, error)
}

// Repository is the persistence the gate needs.
type Repository interface {
	repository.InstallerReader
	repository.InstallerWriter
}

// Checks records which checks passed.
type Checks struct {
	ABNValid          bool `json:"abnValid"`
	ABNActive         bool `json:"abnActive"`
	GSTRegistered     bool `json:"gstRegistered"`
	BusinessNameMatch bool `json:"businessNameMatch"`
	StateMatch        bool `json:"stateMatch"`
	EntityTypeValid   bool `json:"entityTypeValid"`
}

// Result is one evaluation.
type Result struct {
	Approved bool   `json:"approved"`
	Score    int    `json:"score"`
	Reason   string `json:"reason"`
	Outcome  string `json:"outcome"`
	Checks   Checks `json:"checks"`
}

// BatchResult tallies a ProcessPending run.
type BatchResult struct {
	Processed int `json:"processed"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

// Service is the approval gate.
type Service struct {
	repo     Repository
	registry Registry
	eventBus events.Bus
	recorder *activity.Recorder
	log      *logger.Logger
}

func New(repo Repository, registry Registry, eventBus events.Bus, recorder *activity.Recorder, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		eventBus: eventBus,
		recorder: recorder,
		log:      log,
	}
}

// Evaluate scores an installer. It does not change the installer.
func (s *Service) Evaluate(ctx context.Context, inst domain.Installer) (Result, error) {
	var res Result

	abn := ""
	if inst.ABN != nil {
		abn = NormalizeABN(*inst.ABN)
	}
	if !ValidABN(abn) {
		res.Reason = ReasonInvalidFormat
		return classify(res), nil
	}
	res.Checks.ABNValid = true
	res.Score += weightABNValid

	entity, err := s.registry.Lookup(ctx, abn)
	if err != nil {
		return Result{}, apperr.Unavailable("business registry lookup failed", err).WithOp("approval.Evaluate")
	}

	if entity.Status != StatusActive {
		res.Reason = fmt.Sprintf("ABN is %s", entity.Status)
		return classify(res), nil
	}
	res.Checks.ABNActive = true
	res.Score += weightABNActive

	if entity.GSTRegistered {
		res.Checks.GSTRegistered = true
		res.Score += weightGST
	}
	if namesMatch(inst.CompanyName, entity) {
		res.Checks.BusinessNameMatch = true
		res.Score += weightNameMatch
	}
	if entity.State != "" && strings.EqualFold(entity.State, inst.State) {
		res.Checks.StateMatch = true
		res.Score += weightStateMatch
	}
	if isCompanyEntity(entity.EntityType) {
		res.Checks.EntityTypeValid = true
		res.Score += weightCompanyEntity
	}

	res = classify(res)
	switch res.Outcome {
	case OutcomeApproved:
		res.Reason = ReasonApproved
	case OutcomePending:
		res.Reason = ReasonPending
	default:
		res.Reason = ReasonRejected
	}
	return res, nil
}

// classify sets Outcome and Approved from Score.
func classify(res Result) Result {
	switch {
	case res.Score >= ApproveThreshold:
		res.Outcome = OutcomeApproved
		res.Approved = true
	case res.Score >= ReviewThreshold:
		res.Outcome = OutcomePending
	default:
		res.Outcome = OutcomeRejected
	}
	return res
}

func namesMatch(companyName string, entity *Entity) bool {
	company := strings.ToLower(strings.TrimSpace(companyName))
	if company == "" {
		return false
	}
	candidates := append([]string{entity.EntityName}, entity.BusinessNames...)
	for _, name := range candidates {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "" {
			continue
		}
		if strings.Contains(n, company) || strings.Contains(company, n) {
			return true
		}
	}
	return false
}

func isCompanyEntity(code string) bool {
	upper := strings.ToUpper(code)
	for _, c := range companyEntityCodes {
		if strings.Contains(upper, c) {
			return true
		}
	}
	return false
}

// Review evaluates one installer and applies the decision.
func (s *Service) Review(ctx context.Context, installerID uuid.UUID) (Result, error) {
	inst, err := s.repo.GetInstallerByID(ctx, installerID)
	if err != nil {
		return Result{}, err
	}
	return s.review(ctx, inst)
}

func (s *Service) review(ctx context.Context, inst domain.Installer) (Result, error) {
	started := time.Now()

	res, err := s.Evaluate(ctx, inst)
	if err != nil {
		s.recorder.Record(ctx, activity.Entry{
			Type:        activity.TypeInstallerApproval,
			Description: fmt.Sprintf("Approval check failed for %s", inst.CompanyName),
			StartedAt:   started,
			Err:         err,
			Metadata:    map[string]any{"installerId": inst.ID.String()},
		})
		return Result{}, err
	}

	active, verified := flagsFor(res.Outcome)
	if err := s.repo.UpdateInstallerFlags(ctx, inst.ID, active, verified); err != nil {
		return Result{}, fmt.Errorf("apply approval decision: %w", err)
	}

	s.recorder.Record(ctx, activity.Entry{
		Type:        activity.TypeInstallerApproval,
		Description: fmt.Sprintf("Installer %s %s (score %d)", inst.CompanyName, res.Outcome, res.Score),
		StartedAt:   started,
		Metadata: map[string]any{
			"installerId": inst.ID.String(),
			"score":       res.Score,
			"outcome":     res.Outcome,
			"reason":      res.Reason,
		},
	})

	s.eventBus.Publish(ctx, events.InstallerReviewed{
		BaseEvent:   events.NewBaseEvent(),
		InstallerID: inst.ID,
		Score:       res.Score,
		Outcome:     res.Outcome,
		Reason:      res.Reason,
	})

	s.log.Info("installer reviewed", "installerId", inst.ID, "score", res.Score, "outcome", res.Outcome)
	return res, nil
}

// flagsFor maps an outcome to the installer's active and verified flags.
func flagsFor(outcome string) (active, verified bool) {
	switch outcome {
	case OutcomeApproved:
		return true, true
	case OutcomePending:
		return true, false
	default:
		return false, false
	}
}

// ProcessPending reviews every active, unverified installer with an ABN.
func (s *Service) ProcessPending(ctx context.Context) (BatchResult, error) {
	var out BatchResult

	installers, err := s.repo.ListInstallersAwaitingReview(ctx)
	if err != nil {
		return out, fmt.Errorf("list installers awaiting review: %w", err)
	}

	for _, inst := range installers {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if inst.ABN == nil || strings.TrimSpace(*inst.ABN) == "" {
			continue
		}
		res, err := s.review(ctx, inst)
		if err != nil {
			out.Failed++
			s.log.Error("installer review failed", "installerId", inst.ID, "error", err)
			continue
		}
		out.Processed++
		switch res.Outcome {
		case OutcomeApproved:
			out.Approved++
		case OutcomePending:
			out.Pending++
		default:
			out.Rejected++
		}
	}

	s.log.Info("installer review batch complete",
		"processed", out.Processed,
		"approved", out.Approved,
		"rejected", out.Rejected,
		"pending", out.Pending,
		"failed", out.Failed,
	)
	return out, nil
}

// NormalizeABN removes whitespace.
func NormalizeABN(abn string) string {
	return strings.Join(strings.Fields(abn), "")
}

var abnWeights = [11]int{10, 1, 3, 5, 7, 9, 11, 13, 15, 17, 19}

// ValidABN checks the 11-digit format and the modulus 89 checksum.
func ValidABN(abn string) bool {
	if len(abn) != 11 {
		return false
	}
	sum := 0
	for i, r := range abn {
		if r < '0' || r > '9' {
			return false
		}
		d := int(r - '0')
		if i == 0 {
			d--
		}
		sum += d * abnWeights[i]
	}
	return sum%89 == 0
}
