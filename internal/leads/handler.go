package leads

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/internal/matching"
	"solar_leads_backend/platform/httpkit"
	"solar_leads_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	maxPreviewLimit = 50
)

// CreateLeadRequest is the body of POST /leads.
type CreateLeadRequest struct {
	Source              string   `json:"source" validate:"required,max=64"`
	CustomerName        string   `json:"customerName" validate:"required,min=2,max=120"`
	CustomerEmail       string   `json:"customerEmail" validate:"omitempty,email"`
	CustomerPhone       string   `json:"customerPhone" validate:"required,min=8,max=20"`
	Suburb              string   `json:"suburb" validate:"required,max=80"`
	State               string   `json:"state" validate:"required,au_state"`
	Postcode            string   `json:"postcode" validate:"required,au_postcode"`
	Latitude            *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude           *float64 `json:"longitude" validate:"omitempty,longitude"`
	PropertyType        string   `json:"propertyType" validate:"omitempty,oneof=residential commercial industrial"`
	LeadType            string   `json:"leadType" validate:"omitempty,oneof=standard commercial battery_storage"`
	EstimatedSystemSize *float64 `json:"estimatedSystemSize" validate:"omitempty,gt=0,lte=1000"`
	QualityScore        int      `json:"qualityScore" validate:"gte=0,lte=100"`
	EstimatedValue      *int64   `json:"estimatedValue" validate:"omitempty,gt=0"`
}

// LeadResponse is the public shape of a lead.
type LeadResponse struct {
	ID                uuid.UUID           `json:"id"`
	Source            string              `json:"source"`
	Suburb            string              `json:"suburb"`
	State             string              `json:"state"`
	Postcode          string              `json:"postcode"`
	PropertyType      domain.PropertyType `json:"propertyType"`
	LeadType          domain.LeadType     `json:"leadType"`
	QualityScore      int                 `json:"qualityScore"`
	BasePrice         int64               `json:"basePrice"`
	Status            domain.LeadStatus   `json:"status"`
	IsAuctionLead     bool                `json:"isAuctionLead"`
	AuctionStartPrice *int64              `json:"auctionStartPrice,omitempty"`
	AuctionEndTime    *time.Time          `json:"auctionEndTime,omitempty"`
	ExpiresAt         *time.Time          `json:"expiresAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
}

func toResponse(l domain.Lead) LeadResponse {
	return LeadResponse{
		ID:                l.ID,
		Source:            l.Source,
		Suburb:            l.Suburb,
		State:             l.State,
		Postcode:          l.Postcode,
		PropertyType:      l.PropertyType,
		LeadType:          l.LeadType,
		QualityScore:      l.QualityScore,
		BasePrice:         l.BasePrice,
		Status:            l.Status,
		IsAuctionLead:     l.IsAuctionLead,
		AuctionStartPrice: l.AuctionStartPrice,
		AuctionEndTime:    l.AuctionEndTime,
		ExpiresAt:         l.ExpiresAt,
		CreatedAt:         l.CreatedAt,
	}
}

// MatchResponse is one previewed installer.
type MatchResponse struct {
	InstallerID uuid.UUID `json:"installerId"`
	CompanyName string    `json:"companyName"`
	Score       float64   `json:"score"`
	DistanceKm  float64   `json:"distanceKm"`
	Reasons     []string  `json:"reasons"`
}

func toMatchResponse(m matching.MatchResult) MatchResponse {
	return MatchResponse{
		InstallerID: m.Installer.ID,
		CompanyName: m.Installer.CompanyName,
		Score:       m.Score,
		DistanceKm:  m.DistanceKm,
		Reasons:     m.Reasons,
	}
}

type Handler struct {
	svc *Service
	val *validator.Validator
}

func NewHandler(svc *Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	req.State = strings.ToUpper(strings.TrimSpace(req.State))
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.Create(c.Request.Context(), CreateParams{
		Source:              req.Source,
		CustomerName:        req.CustomerName,
		CustomerEmail:       req.CustomerEmail,
		CustomerPhone:       req.CustomerPhone,
		Suburb:              req.Suburb,
		State:               req.State,
		Postcode:            req.Postcode,
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		PropertyType:        domain.PropertyType(req.PropertyType),
		LeadType:            domain.LeadType(req.LeadType),
		EstimatedSystemSize: req.EstimatedSystemSize,
		QualityScore:        req.QualityScore,
		EstimatedValue:      req.EstimatedValue,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, toResponse(lead))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	lead, err := h.svc.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(lead))
}

func (h *Handler) Matches(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPreviewLimit {
			httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, "limit must be between 1 and 50")
			return
		}
	}

	matches, err := h.svc.Matches(c.Request.Context(), id, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	items := make([]MatchResponse, 0, len(matches))
	for _, m := range matches {
		items = append(items, toMatchResponse(m))
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) Price(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	var features []string
	if raw := c.Query("features"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				features = append(features, f)
			}
		}
	}

	quote, err := h.svc.Price(c.Request.Context(), id, features)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, quote)
}
