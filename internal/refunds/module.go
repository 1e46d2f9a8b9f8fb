package refunds

import (
	apphttp "solar_leads_backend/internal/http"
	"solar_leads_backend/platform/validator"
)

// Module exposes refund claims and eligibility over HTTP.
type Module struct {
	handler *Handler
}

func NewModule(svc *Service, evidence EvidenceStore, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(svc, evidence, val)}
}

func (m *Module) Name() string {
	return "refunds"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/refunds", m.handler.Create)
	ctx.V1.GET("/offers/:id/refund-eligibility", m.handler.Eligibility)
	ctx.V1.GET("/offers/:id/refunds", m.handler.History)
}

var _ apphttp.Module = (*Module)(nil)
