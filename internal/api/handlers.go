// Package api contains the HTTP handlers for the tenant routing service
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"casevault/backend/internal/auth"
	"casevault/backend/internal/services"
	"casevault/backend/internal/tenancy"
)

const (
	tenantIDKey = "tenant_id"
	handleKey   = "tenant_handle"

	defaultPingTimeout = 2 * time.Second
)

// Pinger is implemented by tenant handles that can check backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the API server.
type Server struct {
	router      *tenancy.Router
	tenants     *services.TenantService
	logger      *zap.Logger
	pingTimeout time.Duration
}

// NewServer creates a new Server.
func NewServer(router *tenancy.Router, tenants *services.TenantService, logger *zap.Logger) *Server {
	return &Server{
		router:      router,
		tenants:     tenants,
		logger:      logger,
		pingTimeout: defaultPingTimeout,
	}
}

// RegisterRoutes mounts tenant routes on api and administrative routes on
// admin. Callers apply authentication to both groups.
func (s *Server) RegisterRoutes(api, admin *echo.Group) {
	api.GET("/tenants/:tenantId/health", s.HandleTenantHealth, s.TenantRouting)

	admin.POST("/tenants", s.ProvisionTenant)
	admin.GET("/tenants/:tenantId", s.GetTenant)
	admin.POST("/tenants/:tenantId/activate", s.ActivateTenant)
	admin.POST("/tenants/:tenantId/suspend", s.SuspendTenant)
	admin.POST("/tenants/:tenantId/memberships", s.AddMembership)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Service      string    `json:"service"`
	Version      string    `json:"version"`
	CacheEntries int       `json:"cache_entries"`
}

// HandleHealth returns basic health status (always returns 200 OK)
// (GET /healthz)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:       "ok",
		Timestamp:    time.Now().UTC(),
		Service:      "casevault-router",
		Version:      "1.0.0",
		CacheEntries: s.router.Cache().Len(),
	})
}

// TenantRouting resolves the :tenantId path parameter to a backend handle for
// the authenticated principal. Routing failures are returned unchanged so the
// error handler can map them.
func (s *Server) TenantRouting(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, err := tenantParam(c)
		if err != nil {
			return err
		}

		principal, ok := auth.PrincipalFrom(c.Request().Context())
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Principal not found in context")
		}

		handle, err := s.router.Route(c.Request().Context(), principal, tenantID)
		if err != nil {
			return err
		}

		c.Set(tenantIDKey, tenantID)
		c.Set(handleKey, handle)
		return next(c)
	}
}

// HandleFrom returns the handle resolved by TenantRouting.
func HandleFrom(c echo.Context) (tenancy.Handle, bool) {
	h, ok := c.Get(handleKey).(tenancy.Handle)
	return h, ok
}

// TenantHealth is the tenant backend health response.
type TenantHealth struct {
	TenantID  string    `json:"tenant_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleTenantHealth checks that the caller's tenant backend answers.
// (GET /api/v1/tenants/{tenantId}/health)
func (s *Server) HandleTenantHealth(c echo.Context) error {
	tenantID, _ := c.Get(tenantIDKey).(string)
	handle, ok := HandleFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "Tenant handle not resolved")
	}

	if p, ok := handle.(Pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request().Context(), s.pingTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("Tenant backend ping failed", zap.String("tenant_id", tenantID), zap.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, "The tenant backend did not answer.")
		}
	}

	return c.JSON(http.StatusOK, TenantHealth{
		TenantID:  tenantID,
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

func tenantParam(c echo.Context) (string, error) {
	var tenantID string
	err := runtime.BindStyledParameterWithOptions("simple", "tenantId", c.Param("tenantId"), &tenantID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || tenantID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter tenantId")
	}
	return tenantID, nil
}
