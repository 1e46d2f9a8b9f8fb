package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/logger"
)

// StripeGateway talks to the Stripe REST API with off-session payment intents.
type StripeGateway struct {
	baseURL   string
	secretKey string
	client    *http.Client
	log       *logger.Logger
}

// NewStripeGateway creates a Stripe client.
func NewStripeGateway(cfg config.PaymentConfig, log *logger.Logger) *StripeGateway {
	return &StripeGateway{
		baseURL:   strings.TrimRight(cfg.GetStripeBaseURL(), "/"),
		secretKey: cfg.GetStripeSecretKey(),
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log,
	}
}

type stripeObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Charge confirms an off-session payment intent against the customer's default method.
func (g *StripeGateway) Charge(ctx context.Context, amountCents int64, customerRef string, idempotencyKey string) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "aud")
	form.Set("customer", customerRef)
	form.Set("confirm", "true")
	form.Set("off_session", "true")

	var obj stripeObject
	if err := g.post(ctx, "/v1/payment_intents", form, idempotencyKey, &obj); err != nil {
		return "", err
	}
	if obj.Status != "succeeded" && obj.Status != "processing" {
		return obj.ID, fmt.Errorf("%w: payment intent %s is %s", ErrDeclined, obj.ID, obj.Status)
	}
	return obj.ID, nil
}

// Refund refunds a payment intent in full.
func (g *StripeGateway) Refund(ctx context.Context, externalRef string) error {
	form := url.Values{}
	form.Set("payment_intent", externalRef)

	var obj stripeObject
	if err := g.post(ctx, "/v1/refunds", form, "refund-"+externalRef, &obj); err != nil {
		return err
	}
	if obj.Status == "failed" || obj.Status == "canceled" {
		return fmt.Errorf("refund %s is %s", obj.ID, obj.Status)
	}
	return nil
}

func (g *StripeGateway) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build stripe request: %w", err)
	}
	req.SetBasicAuth(g.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var se stripeError
		_ = json.Unmarshal(body, &se)
		g.log.Warn("stripe request rejected", "path", path, "status", resp.StatusCode, "code", se.Error.Code)
		if resp.StatusCode == http.StatusPaymentRequired || se.Error.Type == "card_error" {
			return fmt.Errorf("%w: %s", ErrDeclined, se.Error.Message)
		}
		return fmt.Errorf("stripe %s returned %d: %s", path, resp.StatusCode, se.Error.Message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}
