// Package sms sends text messages through ClickSend.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/phone"
)

const (
	clickSendEndpoint = "https://rest.clicksend.com/v3/sms/send"
	sourceTag         = "lead-engine"
	maxBodyLength     = 459 // three concatenated segments
)

// ErrNotMobile is returned for numbers that cannot receive SMS.
var ErrNotMobile = errors.New("recipient is not a mobile number")

type Sender interface {
	Send(ctx context.Context, to, body string) error
}

type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, to, body string) error {
	return nil
}

type ClickSendSender struct {
	username string
	apiKey   string
	endpoint string
	client   *http.Client
}

type clickSendMessage struct {
	Source string `json:"source"`
	To     string `json:"to"`
	Body   string `json:"body"`
}

type clickSendRequest struct {
	Messages []clickSendMessage `json:"messages"`
}

type clickSendResponse struct {
	ResponseCode string `json:"response_code"`
	ResponseMsg  string `json:"response_msg"`
	Data         struct {
		Messages []struct {
			Status string `json:"status"`
		} `json:"messages"`
	} `json:"data"`
}

// NewSender returns a ClickSend sender, or a no-op one without credentials.
func NewSender(cfg config.SMSConfig) Sender {
	if !cfg.IsSMSEnabled() {
		return NoopSender{}
	}
	return NewClickSendSender(cfg.GetClickSendUsername(), cfg.GetClickSendAPIKey())
}

func NewClickSendSender(username, apiKey string) *ClickSendSender {
	return &ClickSendSender{
		username: username,
		apiKey:   apiKey,
		endpoint: clickSendEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers body to an Australian mobile number.
func (s *ClickSendSender) Send(ctx context.Context, to, body string) error {
	if !phone.IsMobile(to) {
		return ErrNotMobile
	}
	if len(body) > maxBodyLength {
		body = body[:maxBodyLength]
	}

	payload, err := json.Marshal(clickSendRequest{Messages: []clickSendMessage{{
		Source: sourceTag,
		To:     phone.NormalizeE164(to),
		Body:   body,
	}}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.username, s.apiKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("clicksend send failed: status %d: %s", resp.StatusCode, string(data))
	}

	var out clickSendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode clicksend response: %w", err)
	}
	if out.ResponseCode != "SUCCESS" {
		return fmt.Errorf("clicksend send failed: %s", out.ResponseMsg)
	}
	for _, m := range out.Data.Messages {
		if m.Status != "SUCCESS" {
			return fmt.Errorf("clicksend message rejected: %s", m.Status)
		}
	}
	return nil
}
