package pricing

import (
	apphttp "solar_leads_backend/internal/http"
	"solar_leads_backend/platform/validator"
)

// Module exposes bundle and quote pricing over HTTP.
type Module struct {
	handler *Handler
}

func NewModule(engine *Engine, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(engine, val)}
}

func (m *Module) Name() string {
	return "pricing"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	pricing := ctx.V1.Group("/pricing")
	pricing.GET("", m.handler.Catalog)
	pricing.GET("/bundles", m.handler.ListBundles)
	pricing.POST("/bundles", m.handler.PriceBundle)
	pricing.POST("/quote", m.handler.Quote)
}

var _ apphttp.Module = (*Module)(nil)
