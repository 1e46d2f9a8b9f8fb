package pricing

import (
	"net/http"
	"strconv"

	"solar_leads_backend/platform/httpkit"
	"solar_leads_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	defaultAveragePrice = 60
)

type BundleRequest struct {
	AveragePrice int64  `json:"averagePrice" validate:"required,gt=0"`
	BundleType   string `json:"bundleType" validate:"required"`
}

type QuoteRequest struct {
	BasePrice        int64  `json:"basePrice" validate:"required,gt=0"`
	Postcode         string `json:"postcode" validate:"omitempty,au_postcode"`
	Tier             string `json:"tier" validate:"omitempty,oneof=standard premium platinum"`
	SubscriptionPlan string `json:"subscriptionPlan" validate:"omitempty,oneof=starter growth professional"`
	DemandLevel      string `json:"demandLevel"`
	Quantity         int    `json:"quantity" validate:"gte=0"`
}

type Handler struct {
	engine *Engine
	val    *validator.Validator
}

func NewHandler(engine *Engine, val *validator.Validator) *Handler {
	return &Handler{engine: engine, val: val}
}

func (h *Handler) ListBundles(c *gin.Context) {
	avg := int64(defaultAveragePrice)
	if raw := c.Query("averagePrice"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "averagePrice must be a positive integer")
			return
		}
		avg = parsed
	}
	httpkit.OK(c, gin.H{"averagePrice": avg, "items": h.engine.Bundles(avg)})
}

func (h *Handler) PriceBundle(c *gin.Context) {
	var req BundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	quote, err := h.engine.BundlePrice(req.AveragePrice, req.BundleType)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, quote)
}

func (h *Handler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	quote, err := h.engine.MaximumProfitPrice(ProfitParams{
		BasePrice:        req.BasePrice,
		Postcode:         req.Postcode,
		Tier:             req.Tier,
		SubscriptionPlan: req.SubscriptionPlan,
		DemandLevel:      req.DemandLevel,
		Quantity:         req.Quantity,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, quote)
}

func (h *Handler) Catalog(c *gin.Context) {
	httpkit.OK(c, gin.H{
		"tiers":      Tiers(),
		"enrichment": h.engine.EnrichmentFeatures(),
	})
}
