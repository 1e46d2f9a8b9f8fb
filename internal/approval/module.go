package approval

import (
	apphttp "solar_leads_backend/internal/http"
)

// Module exposes installer review over HTTP.
type Module struct {
	handler *Handler
}

func NewModule(svc *Service) *Module {
	return &Module{handler: NewHandler(svc)}
}

func (m *Module) Name() string {
	return "approval"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/installers/review-pending", m.handler.ReviewPending)
	ctx.V1.POST("/installers/:id/review", m.handler.Review)
}

var _ apphttp.Module = (*Module)(nil)
