package scheduler

import (
	"errors"
	"net/http"

	apphttp "solar_leads_backend/internal/http"
	"solar_leads_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module exposes the reconciler's state on the scheduler process.
type Module struct {
	reconciler *Reconciler
}

func NewModule(r *Reconciler) *Module {
	return &Module{reconciler: r}
}

func (m *Module) Name() string { return "scheduler" }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	g := ctx.V1.Group("/scheduler")
	g.GET("/status", m.status)
	g.POST("/run", m.run)
}

func (m *Module) status(c *gin.Context) {
	httpkit.OK(c, m.reconciler.Status())
}

// run triggers one cycle synchronously.
func (m *Module) run(c *gin.Context) {
	res, err := m.reconciler.RunCycle(c.Request.Context())
	switch {
	case errors.Is(err, ErrCycleInProgress), errors.Is(err, ErrCycleLocked):
		httpkit.Error(c, http.StatusConflict, err.Error(), nil)
		return
	case err != nil:
		httpkit.Error(c, http.StatusServiceUnavailable, "reconciliation unavailable", nil)
		return
	}
	httpkit.OK(c, res)
}

var _ apphttp.Module = (*Module)(nil)
