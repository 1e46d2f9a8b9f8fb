package leads

import (
	apphttp "solar_leads_backend/internal/http"
	"solar_leads_backend/platform/validator"
)

// Module exposes lead intake and previews over HTTP.
type Module struct {
	handler *Handler
}

func NewModule(svc *Service, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(svc, val)}
}

func (m *Module) Name() string {
	return "leads"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/leads", m.handler.Create)
	ctx.V1.GET("/leads/:id", m.handler.Get)
	ctx.V1.GET("/leads/:id/matches", m.handler.Matches)
	ctx.V1.GET("/leads/:id/price", m.handler.Price)
}

var _ apphttp.Module = (*Module)(nil)
