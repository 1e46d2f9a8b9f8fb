package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apphttp "solar_leads_backend/internal/http"
	"solar_leads_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type httpConfig struct{}

func (httpConfig) GetHTTPAddr() string      { return ":0" }
func (httpConfig) GetCORSAllowAll() bool    { return true }
func (httpConfig) GetCORSOrigins() []string { return nil }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type pingModule struct{}

func (pingModule) Name() string { return "ping" }
func (pingModule) RegisterRoutes(rc *apphttp.RouterContext) {
	rc.V1.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
}

func TestRouterMountsModulesAndHealth(t *testing.T) {
	engine := New(&apphttp.App{
		Config:  httpConfig{},
		Logger:  logger.Nop(),
		Health:  pinger{},
		Modules: []apphttp.Module{pingModule{}},
	})

	for path, want := range map[string]int{"/healthz": 200, "/readyz": 200, "/api/v1/ping": 200, "/api/v1/missing": 404} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}

func TestReadyzReportsUnavailableDatabase(t *testing.T) {
	engine := New(&apphttp.App{Config: httpConfig{}, Logger: logger.Nop(), Health: pinger{err: errors.New("down")}})
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}
