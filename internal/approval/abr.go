package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"solar_leads_backend/platform/config"
	"solar_leads_backend/platform/logger"

	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	abnDetailsPath     = "/json/AbnDetails.aspx"
	jsonpCallback      = "callback"
	maxResponseBytes   = 1 << 20
)

// Registry statuses.
const (
	StatusActive    = "Active"
	StatusCancelled = "Cancelled"
	StatusInvalid   = "Invalid"
)

// Entity is the registry record for one ABN.
type Entity struct {
	ABN           string
	EntityName    string
	BusinessNames []string
	Status        string
	GSTRegistered bool
	EntityType    string
	State         string
	Postcode      string
}

// abnDetails mirrors the ABR AbnDetails JSON payload.
type abnDetails struct {
	Abn             string   `json:"Abn"`
	AbnStatus       string   `json:"AbnStatus"`
	AddressPostcode string   `json:"AddressPostcode"`
	AddressState    string   `json:"AddressState"`
	BusinessName    []string `json:"BusinessName"`
	EntityName      string   `json:"EntityName"`
	EntityTypeCode  string   `json:"EntityTypeCode"`
	Gst             *string  `json:"Gst"`
	Message         string   `json:"Message"`
}

// ABRClient queries the Australian Business Register.
type ABRClient struct {
	httpClient *http.Client
	baseURL    string
	guid       string
	limiter    *rate.Limiter
	log        *logger.Logger
}

// NewABRClient creates a throttled registry client.
func NewABRClient(cfg config.RegistryConfig, log *logger.Logger) *ABRClient {
	rps := cfg.GetABRRequestsPerSecond()
	if rps <= 0 {
		rps = 2
	}
	return &ABRClient{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		baseURL:    strings.TrimRight(cfg.GetABRBaseURL(), "/"),
		guid:       cfg.GetABRGUID(),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		log:        log,
	}
}

// Lookup fetches the registry entry for abn. An ABN the registry does not
// know comes back with StatusInvalid rather than an error.
func (c *ABRClient) Lookup(ctx context.Context, abn string) (*Entity, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("abr rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("abn", abn)
	params.Set("guid", c.guid)
	params.Set("callback", jsonpCallback)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, abnDetailsPath, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("abr request failed", "error", err)
		return nil, fmt.Errorf("abr request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.log.Error("abr request error", "status", resp.StatusCode)
		return nil, fmt.Errorf("abr status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read abr response: %w", err)
	}
	var details abnDetails
	if err := json.Unmarshal(unwrapJSONP(raw), &details); err != nil {
		c.log.Error("abr decode failed", "error", err)
		return nil, fmt.Errorf("decode abr response: %w", err)
	}

	if details.Abn == "" || details.Message != "" {
		return &Entity{ABN: abn, Status: StatusInvalid}, nil
	}
	status := details.AbnStatus
	if status == "" {
		status = StatusInvalid
	}
	return &Entity{
		ABN:           details.Abn,
		EntityName:    details.EntityName,
		BusinessNames: details.BusinessName,
		Status:        status,
		GSTRegistered: details.Gst != nil && *details.Gst != "",
		EntityType:    details.EntityTypeCode,
		State:         details.AddressState,
		Postcode:      details.AddressPostcode,
	}, nil
}

// unwrapJSONP strips a "callback(...)" wrapper. Plain JSON passes through.
func unwrapJSONP(raw []byte) []byte {
	body := bytes.TrimSpace(raw)
	open := bytes.IndexByte(body, '(')
	if open < 0 || (len(body) > 0 && (body[0] == '{' || body[0] == '[')) {
		return body
	}
	end := bytes.LastIndexByte(body, ')')
	if end <= open {
		return body
	}
	return bytes.TrimSpace(body[open+1 : end])
}
