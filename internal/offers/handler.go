package offers

import (
	"net/http"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/httpkit"
	"solar_leads_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// RespondRequest is the body of POST /offers/:id/respond.
type RespondRequest struct {
	InstallerID uuid.UUID `json:"installerId" validate:"required"`
	Accept      *bool     `json:"accept" validate:"required"`
}

// ClosureRequest is the body of POST /offers/:id/closure. ContractValue is in
// whole dollars.
type ClosureRequest struct {
	InstallerID   uuid.UUID `json:"installerId" validate:"required"`
	ContractValue int64     `json:"contractValue" validate:"gte=0"`
}

type ClosureResponse struct {
	ID                    uuid.UUID `json:"id"`
	OfferID               uuid.UUID `json:"offerId"`
	LeadID                uuid.UUID `json:"leadId"`
	InstallerID           uuid.UUID `json:"installerId"`
	ContractValue         int64     `json:"contractValue"`
	PerformanceBonusCents int64     `json:"performanceBonusCents"`
	BonusPaid             bool      `json:"bonusPaid"`
	ClosedAt              time.Time `json:"closedAt"`
}

// OfferResponse is the public shape of an offer.
type OfferResponse struct {
	ID          uuid.UUID          `json:"id"`
	LeadID      uuid.UUID          `json:"leadId"`
	InstallerID uuid.UUID          `json:"installerId"`
	OfferPrice  int64              `json:"offerPrice"`
	DistanceKm  int                `json:"distanceKm"`
	Status      domain.OfferStatus `json:"status"`
	SentAt      time.Time          `json:"sentAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	RespondedAt *time.Time         `json:"respondedAt,omitempty"`
}

func toResponse(o domain.Offer) OfferResponse {
	return OfferResponse{
		ID:          o.ID,
		LeadID:      o.LeadID,
		InstallerID: o.InstallerID,
		OfferPrice:  o.OfferPrice,
		DistanceKm:  o.DistanceKm,
		Status:      o.Status,
		SentAt:      o.SentAt,
		ExpiresAt:   o.ExpiresAt,
		RespondedAt: o.RespondedAt,
	}
}

type Handler struct {
	svc *Service
	val *validator.Validator
}

func NewHandler(svc *Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) Respond(c *gin.Context) {
	offerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	offer, err := h.svc.RespondToOffer(c.Request.Context(), offerID, req.InstallerID, *req.Accept)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(offer))
}

func (h *Handler) ListForInstaller(c *gin.Context) {
	installerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	items, err := h.svc.ListInstallerOffers(c.Request.Context(), installerID)
	if httpkit.HandleError(c, err) {
		return
	}
	out := make([]OfferResponse, 0, len(items))
	for _, o := range items {
		out = append(out, toResponse(o))
	}
	httpkit.OK(c, gin.H{"items": out})
}

func (h *Handler) ReportClosure(c *gin.Context) {
	offerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	var req ClosureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	closure, err := h.svc.ReportClosure(c.Request.Context(), offerID, req.InstallerID, req.ContractValue)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, ClosureResponse{
		ID:                    closure.ID,
		OfferID:               closure.OfferID,
		LeadID:                closure.LeadID,
		InstallerID:           closure.InstallerID,
		ContractValue:         closure.ContractValue,
		PerformanceBonusCents: closure.PerformanceBonusCents,
		BonusPaid:             closure.BonusPaid,
		ClosedAt:              closure.ClosedAt,
	})
}
