package offers

import (
	apphttp "solar_leads_backend/internal/http"
	"solar_leads_backend/platform/validator"
)

// Module exposes installer offer responses and closure reports over HTTP.
type Module struct {
	handler *Handler
}

func NewModule(svc *Service, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(svc, val)}
}

func (m *Module) Name() string {
	return "offers"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/offers/:id/respond", m.handler.Respond)
	ctx.V1.POST("/offers/:id/closure", m.handler.ReportClosure)
	ctx.V1.GET("/installers/:id/offers", m.handler.ListForInstaller)
}

var _ apphttp.Module = (*Module)(nil)
