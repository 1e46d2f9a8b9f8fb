package refunds

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"solar_leads_backend/internal/domain"
	"solar_leads_backend/platform/apperr"
	"solar_leads_backend/platform/httpkit"
	"solar_leads_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	evidenceField = "evidence"
)

// RefundRequest is the body of POST /refunds, as JSON or multipart form.
type RefundRequest struct {
	OfferID         string `json:"offerId" form:"offerId" validate:"required,uuid"`
	InstallerID     string `json:"installerId" form:"installerId" validate:"omitempty,uuid"`
	Reason          string `json:"reason" form:"reason" validate:"required,oneof=no_response invalid_phone never_inquired duplicate other"`
	ContactAttempts int    `json:"contactAttempts" form:"contactAttempts" validate:"gte=0,lte=100"`
}

type RecordResponse struct {
	ID              uuid.UUID `json:"id"`
	Reason          string    `json:"reason"`
	ContactAttempts int       `json:"contactAttempts"`
	Approved        bool      `json:"approved"`
	DecisionReason  string    `json:"decisionReason"`
	RefundAmount    int64     `json:"refundAmount"`
	Automated       bool      `json:"automated"`
	HasEvidence     bool      `json:"hasEvidence"`
	ProcessedAt     string    `json:"processedAt"`
}

type Handler struct {
	svc      *Service
	evidence EvidenceStore
	val      *validator.Validator
}

// NewHandler wires the HTTP surface. evidence may be nil when object
// storage is not configured; uploads are then refused.
func NewHandler(svc *Service, evidence EvidenceStore, val *validator.Validator) *Handler {
	return &Handler{svc: svc, evidence: evidence, val: val}
}

func (h *Handler) Create(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBind(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	offerID := uuid.MustParse(req.OfferID)
	in := Request{
		OfferID:         offerID,
		Reason:          domain.RefundReason(req.Reason),
		ContactAttempts: req.ContactAttempts,
	}
	if req.InstallerID != "" {
		installerID := uuid.MustParse(req.InstallerID)
		in.InstallerID = &installerID
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		key, err := h.storeEvidence(c, offerID)
		if httpkit.HandleError(c, err) {
			return
		}
		in.EvidenceKey = key
	}

	res, err := h.svc.Process(c.Request.Context(), in)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

func (h *Handler) storeEvidence(c *gin.Context, offerID uuid.UUID) (*string, error) {
	file, err := c.FormFile(evidenceField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, apperr.BadRequest("unreadable evidence file")
	}
	if h.evidence == nil {
		return nil, apperr.BadRequest("evidence uploads are not enabled")
	}

	f, err := file.Open()
	if err != nil {
		return nil, apperr.BadRequest("unreadable evidence file")
	}
	defer func() { _ = f.Close() }()

	contentType := file.Header.Get("Content-Type")
	key, err := h.evidence.Upload(c.Request.Context(), offerID, file.Filename, contentType, f, file.Size)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "evidence upload rejected", err)
	}
	return &key, nil
}

func (h *Handler) Eligibility(c *gin.Context) {
	offerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	out, err := h.svc.Eligibility(c.Request.Context(), offerID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, out)
}

func (h *Handler) History(c *gin.Context) {
	offerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	records, err := h.svc.History(c.Request.Context(), offerID)
	if httpkit.HandleError(c, err) {
		return
	}
	items := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		items = append(items, RecordResponse{
			ID:              r.ID,
			Reason:          string(r.Reason),
			ContactAttempts: r.ContactAttempts,
			Approved:        r.Approved,
			DecisionReason:  r.DecisionReason,
			RefundAmount:    r.RefundAmount,
			Automated:       r.Automated,
			HasEvidence:     r.EvidenceKey != nil,
			ProcessedAt:     r.ProcessedAt.UTC().Format(time.RFC3339),
		})
	}
	httpkit.OK(c, gin.H{"items": items})
}
