package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"solar_leads_backend/platform/config"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// OfferDetails is what an installer sees about an offer and its lead.
type OfferDetails struct {
	OfferID          string
	InstallerName    string
	Suburb           string
	State            string
	Postcode         string
	PropertyType     string
	SystemSizeKw     *float64
	DistanceKm       int
	Price            int64
	ExpiresAt        time.Time
	CustomerName     string
	CustomerPhone    string
	CustomerEmail    string
	RefundWindowDays int
}

// RefundDetails is the outcome of a refund request.
type RefundDetails struct {
	OfferID       string
	InstallerName string
	Approved      bool
	Reason        string
	Amount        int64
}

type Sender interface {
	SendOfferCreatedEmail(ctx context.Context, toEmail string, offer OfferDetails) error
	SendOfferAcceptedEmail(ctx context.Context, toEmail string, offer OfferDetails) error
	SendRefundDecisionEmail(ctx context.Context, toEmail string, refund RefundDetails) error
}

type NoopSender struct{}

func (NoopSender) SendOfferCreatedEmail(ctx context.Context, toEmail string, offer OfferDetails) error {
	return nil
}

func (NoopSender) SendOfferAcceptedEmail(ctx context.Context, toEmail string, offer OfferDetails) error {
	return nil
}

func (NoopSender) SendRefundDecisionEmail(ctx context.Context, toEmail string, refund RefundDetails) error {
	return nil
}

// deliverer sends one rendered message.
type deliverer interface {
	deliver(ctx context.Context, toEmail, subject, htmlContent string) error
}

// templated renders the engine's messages and hands them to a deliverer.
type templated struct {
	d       deliverer
	baseURL string
}

func (t templated) SendOfferCreatedEmail(ctx context.Context, toEmail string, offer OfferDetails) error {
	subject, body, err := renderOfferCreated(t.baseURL, offer)
	if err != nil {
		return err
	}
	return t.d.deliver(ctx, toEmail, subject, body)
}

func (t templated) SendOfferAcceptedEmail(ctx context.Context, toEmail string, offer OfferDetails) error {
	subject, body, err := renderOfferAccepted(offer)
	if err != nil {
		return err
	}
	return t.d.deliver(ctx, toEmail, subject, body)
}

func (t templated) SendRefundDecisionEmail(ctx context.Context, toEmail string, refund RefundDetails) error {
	subject, body, err := renderRefundDecided(refund)
	if err != nil {
		return err
	}
	return t.d.deliver(ctx, toEmail, subject, body)
}

type BrevoSender struct {
	apiKey    string
	fromName  string
	fromEmail string
	endpoint  string
	client    *http.Client
}

type brevoEmailRequest struct {
	Sender struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"sender"`
	To []struct {
		Email string `json:"email"`
	} `json:"to"`
	Subject     string `json:"subject"`
	HTMLContent string `json:"htmlContent"`
}

// NewSender picks Brevo when an API key is set, SMTP when a host is set,
// and a no-op sender when email is disabled or unconfigured.
func NewSender(cfg config.EmailConfig, baseURL string) Sender {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if cfg.GetBrevoAPIKey() != "" {
		return templated{d: NewBrevoSender(cfg.GetBrevoAPIKey(), cfg.GetEmailFromName(), cfg.GetEmailFromAddress()), baseURL: baseURL}
	}
	if cfg.GetSMTPHost() != "" {
		smtp := NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(), cfg.GetEmailFromAddress(), cfg.GetEmailFromName())
		return templated{d: smtp, baseURL: baseURL}
	}
	return NoopSender{}
}

func NewBrevoSender(apiKey, fromName, fromEmail string) *BrevoSender {
	return &BrevoSender{
		apiKey:    apiKey,
		fromName:  fromName,
		fromEmail: fromEmail,
		endpoint:  brevoEndpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BrevoSender) deliver(ctx context.Context, toEmail, subject, htmlContent string) error {
	payload := brevoEmailRequest{
		Subject:     subject,
		HTMLContent: htmlContent,
	}
	payload.Sender.Name = b.fromName
	payload.Sender.Email = b.fromEmail
	payload.To = []struct {
		Email string `json:"email"`
	}{{Email: toEmail}}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("brevo send failed: status %d: %s", resp.StatusCode, string(data))
	}

	return nil
}
