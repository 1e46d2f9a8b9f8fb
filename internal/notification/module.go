// Package notification provides event handlers for sending notifications
// (email and SMS) in response to domain events.
// Handlers write to the notification outbox; delivery happens when the
// scheduler dispatches the outbox record, so domain modules never talk to
// email or SMS providers directly.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/email"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/notification/outbox"
	"solar_leads_backend/internal/sms"
	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	templateOfferCreated  = "offer_created"
	templateOfferAccepted = "offer_accepted"
	templateRefundDecided = "refund_decided"

	offerCreatedSMSFmt = "New %s solar lead in %s %s (%d km), $%d. Respond by %s: %s"

	invalidOutboxPayloadPrefix = "invalid payload: "
	maxOutboxRetryAttempts     = 5
	outboxRetryBaseDelay       = time.Minute
	outboxRetryMaxDelay        = 60 * time.Minute
)

// Repository is the read access the module needs to build messages.
type Repository interface {
	GetLeadByID(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	GetInstallerByID(ctx context.Context, id uuid.UUID) (domain.Installer, error)
	GetOfferByID(ctx context.Context, id uuid.UUID) (domain.Offer, error)
	MarkOfferNotified(ctx context.Context, id uuid.UUID, channel string) error
}

type Config interface {
	config.NotificationConfig
	GetRefundWindowDays() int
}

type Module struct {
	repo    Repository
	outbox  outbox.Store
	email   email.Sender
	sms     sms.Sender
	cfg     Config
	log     *logger.Logger
	now     func() time.Time
	sydney  *time.Location
	baseURL string
}

type emailOutboxPayload struct {
	To     string               `json:"to"`
	Offer  *email.OfferDetails  `json:"offer,omitempty"`
	Refund *email.RefundDetails `json:"refund,omitempty"`
}

type smsOutboxPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func New(repo Repository, store outbox.Store, emailSender email.Sender, smsSender sms.Sender, cfg Config, log *logger.Logger) *Module {
	if emailSender == nil {
		emailSender = email.NoopSender{}
	}
	if smsSender == nil {
		smsSender = sms.NoopSender{}
	}
	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		loc = time.UTC
	}
	return &Module{
		repo:    repo,
		outbox:  store,
		email:   emailSender,
		sms:     smsSender,
		cfg:     cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		sydney:  loc,
		baseURL: strings.TrimRight(cfg.GetAppBaseURL(), "/"),
	}
}

func (m *Module) SetClock(now func() time.Time) { m.now = now }

func (m *Module) Name() string { return "notification" }

// RegisterHandlers subscribes the module to the events it reacts to.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.OfferCreated{}.EventName(), m)
	bus.Subscribe(events.OfferAccepted{}.EventName(), m)
	bus.Subscribe(events.RefundDecided{}.EventName(), m)
	bus.Subscribe(events.NotificationOutboxDue{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.OfferCreated:
		return m.handleOfferCreated(ctx, e)
	case events.OfferAccepted:
		return m.handleOfferAccepted(ctx, e)
	case events.RefundDecided:
		return m.handleRefundDecided(ctx, e)
	case events.NotificationOutboxDue:
		return m.Deliver(ctx, e.OutboxID)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleOfferCreated(ctx context.Context, e events.OfferCreated) error {
	if m.outbox == nil {
		m.log.Debug("notification outbox not configured; enqueue skipped", "offerId", e.OfferID)
		return nil
	}
	details, installer, err := m.offerDetails(ctx, e.OfferID)
	if err != nil {
		return err
	}

	if installer.Email != "" {
		if err := m.enqueue(ctx, outbox.KindEmail, templateOfferCreated, &e.OfferID, emailOutboxPayload{To: installer.Email, Offer: &details}); err != nil {
			return err
		}
	}
	if installer.Phone != "" {
		msg := fmt.Sprintf(offerCreatedSMSFmt,
			details.PropertyType, details.Suburb, details.Postcode, details.DistanceKm, details.Price,
			details.ExpiresAt.In(m.sydney).Format("Mon 2 Jan 3:04pm"), m.offerURL(e.OfferID))
		if err := m.enqueue(ctx, outbox.KindSMS, templateOfferCreated, &e.OfferID, smsOutboxPayload{To: installer.Phone, Message: msg}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) handleOfferAccepted(ctx context.Context, e events.OfferAccepted) error {
	if m.outbox == nil {
		m.log.Debug("notification outbox not configured; enqueue skipped", "offerId", e.OfferID)
		return nil
	}
	details, installer, err := m.offerDetails(ctx, e.OfferID)
	if err != nil {
		return err
	}
	if installer.Email == "" {
		m.log.Debug("installer has no email; acceptance email skipped", "installerId", installer.ID)
		return nil
	}
	details.Price = e.Price
	return m.enqueue(ctx, outbox.KindEmail, templateOfferAccepted, nil, emailOutboxPayload{To: installer.Email, Offer: &details})
}

func (m *Module) handleRefundDecided(ctx context.Context, e events.RefundDecided) error {
	if m.outbox == nil || e.InstallerID == nil {
		return nil
	}
	installer, err := m.repo.GetInstallerByID(ctx, *e.InstallerID)
	if err != nil {
		return fmt.Errorf("load installer %s: %w", e.InstallerID, err)
	}
	if installer.Email == "" {
		return nil
	}
	refund := email.RefundDetails{
		OfferID:       e.OfferID.String(),
		InstallerName: installer.CompanyName,
		Approved:      e.Approved,
		Reason:        e.Decision,
		Amount:        e.RefundAmount,
	}
	return m.enqueue(ctx, outbox.KindEmail, templateRefundDecided, nil, emailOutboxPayload{To: installer.Email, Refund: &refund})
}

func (m *Module) offerDetails(ctx context.Context, offerID uuid.UUID) (email.OfferDetails, domain.Installer, error) {
	offer, err := m.repo.GetOfferByID(ctx, offerID)
	if err != nil {
		return email.OfferDetails{}, domain.Installer{}, fmt.Errorf("load offer %s: %w", offerID, err)
	}
	lead, err := m.repo.GetLeadByID(ctx, offer.LeadID)
	if err != nil {
		return email.OfferDetails{}, domain.Installer{}, fmt.Errorf("load lead %s: %w", offer.LeadID, err)
	}
	installer, err := m.repo.GetInstallerByID(ctx, offer.InstallerID)
	if err != nil {
		return email.OfferDetails{}, domain.Installer{}, fmt.Errorf("load installer %s: %w", offer.InstallerID, err)
	}
	return email.OfferDetails{
		OfferID:          offer.ID.String(),
		InstallerName:    installer.CompanyName,
		Suburb:           lead.Suburb,
		State:            lead.State,
		Postcode:         lead.Postcode,
		PropertyType:     string(lead.PropertyType),
		SystemSizeKw:     lead.EstimatedSystemSize,
		DistanceKm:       offer.DistanceKm,
		Price:            offer.OfferPrice,
		ExpiresAt:        offer.ExpiresAt,
		CustomerName:     lead.CustomerName,
		CustomerPhone:    lead.CustomerPhone,
		CustomerEmail:    lead.CustomerEmail,
		RefundWindowDays: m.cfg.GetRefundWindowDays(),
	}, installer, nil
}

func (m *Module) enqueue(ctx context.Context, kind, template string, offerID *uuid.UUID, payload any) error {
	id, err := m.outbox.Insert(ctx, outbox.InsertParams{
		Kind:     kind,
		Template: template,
		Payload:  payload,
		OfferID:  offerID,
		RunAt:    m.now(),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", kind, template, err)
	}
	m.log.Info("outbox message enqueued", "outboxId", id.String(), "kind", kind, "template", template)
	return nil
}

func (m *Module) offerURL(offerID uuid.UUID) string {
	return m.baseURL + "/offers/" + offerID.String()
}

// Deliver sends one outbox record and records the outcome on it.
// Transient failures are rescheduled on the record with exponential backoff
// and return nil.
func (m *Module) Deliver(ctx context.Context, outboxID uuid.UUID) error {
	if m.outbox == nil {
		m.log.Debug("notification outbox not configured; skipping outbox due event", "outboxId", outboxID)
		return nil
	}
	rec, process, err := m.prepareOutboxRecord(ctx, outboxID)
	if err != nil || !process {
		if err != nil {
			m.log.Error("failed to prepare outbox record", "outboxId", outboxID, "error", err)
		}
		return err
	}

	var processErr error
	switch rec.Kind {
	case outbox.KindEmail:
		processErr = m.deliverEmail(ctx, rec)
	case outbox.KindSMS:
		processErr = m.deliverSMS(ctx, rec)
	default:
		_ = m.outbox.MarkFailed(ctx, rec.ID, "unsupported kind "+rec.Kind)
		return nil
	}

	var permanent permanentError
	switch {
	case errors.As(processErr, &permanent):
		_ = m.outbox.MarkFailed(ctx, rec.ID, permanent.Error())
		m.log.Warn("notification outbox delivery failed permanently", "outboxId", rec.ID.String(), "kind", rec.Kind, "template", rec.Template, "error", permanent)
		return nil
	case processErr != nil:
		m.handleOutboxDeliveryError(ctx, rec, processErr)
		return nil
	}

	if err := m.outbox.MarkSucceeded(ctx, rec.ID); err != nil {
		m.log.Error("failed to mark outbox record succeeded", "outboxId", rec.ID.String(), "error", err)
	}
	if rec.OfferID != nil {
		if err := m.repo.MarkOfferNotified(ctx, *rec.OfferID, rec.Kind); err != nil {
			m.log.Warn("failed to flag offer notified", "offerId", rec.OfferID.String(), "channel", rec.Kind, "error", err)
		}
	}
	m.log.Info("outbox record processed successfully", "outboxId", rec.ID.String(), "kind", rec.Kind, "template", rec.Template)
	return nil
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func (m *Module) deliverEmail(ctx context.Context, rec outbox.Record) error {
	var payload emailOutboxPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return permanentError{errors.New(invalidOutboxPayloadPrefix + err.Error())}
	}
	switch {
	case rec.Template == templateOfferCreated && payload.Offer != nil:
		return m.email.SendOfferCreatedEmail(ctx, payload.To, *payload.Offer)
	case rec.Template == templateOfferAccepted && payload.Offer != nil:
		return m.email.SendOfferAcceptedEmail(ctx, payload.To, *payload.Offer)
	case rec.Template == templateRefundDecided && payload.Refund != nil:
		return m.email.SendRefundDecisionEmail(ctx, payload.To, *payload.Refund)
	default:
		return permanentError{fmt.Errorf("unsupported email template %q", rec.Template)}
	}
}

func (m *Module) deliverSMS(ctx context.Context, rec outbox.Record) error {
	var payload smsOutboxPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return permanentError{errors.New(invalidOutboxPayloadPrefix + err.Error())}
	}
	if err := m.sms.Send(ctx, payload.To, payload.Message); err != nil {
		if errors.Is(err, sms.ErrNotMobile) {
			return permanentError{err}
		}
		return err
	}
	return nil
}

func (m *Module) prepareOutboxRecord(ctx context.Context, outboxID uuid.UUID) (outbox.Record, bool, error) {
	rec, err := m.outbox.GetByID(ctx, outboxID)
	if err != nil {
		return outbox.Record{}, false, err
	}
	if rec.Status == outbox.StatusSucceeded || rec.Status == outbox.StatusFailed {
		m.log.Debug("outbox record already finished; skipping", "outboxId", rec.ID.String(), "status", rec.Status)
		return rec, false, nil
	}
	if err := m.outbox.MarkProcessing(ctx, rec.ID); err != nil {
		return outbox.Record{}, false, err
	}
	m.log.Debug("outbox record marked processing", "outboxId", rec.ID.String(), "kind", rec.Kind, "template", rec.Template)
	return rec, true, nil
}

func (m *Module) handleOutboxDeliveryError(ctx context.Context, rec outbox.Record, deliveryErr error) {
	attempt := rec.Attempts + 1
	if attempt >= maxOutboxRetryAttempts {
		_ = m.outbox.MarkFailed(ctx, rec.ID, deliveryErr.Error())
		m.log.Warn("notification outbox exhausted retries",
			"outboxId", rec.ID.String(),
			"kind", rec.Kind,
			"template", rec.Template,
			"attempt", attempt,
			"maxAttempts", maxOutboxRetryAttempts,
			"error", deliveryErr,
		)
		return
	}

	retryAt := m.now().Add(computeOutboxRetryDelay(attempt))
	if err := m.outbox.ScheduleRetry(ctx, rec.ID, retryAt, deliveryErr.Error()); err != nil {
		_ = m.outbox.MarkFailed(ctx, rec.ID, deliveryErr.Error())
		m.log.Error("notification outbox retry scheduling failed; marked failed",
			"outboxId", rec.ID.String(),
			"attempt", attempt,
			"error", err,
		)
		return
	}

	m.log.Warn("notification outbox scheduled retry",
		"outboxId", rec.ID.String(),
		"kind", rec.Kind,
		"template", rec.Template,
		"attempt", attempt,
		"retryAt", retryAt,
		"error", deliveryErr,
	)
}

func computeOutboxRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := outboxRetryBaseDelay << (attempt - 1)
	if delay > outboxRetryMaxDelay {
		return outboxRetryMaxDelay
	}
	return delay
}
