package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"casevault/backend/pkg/models"
)

type provisionRequest struct {
	TenantID    string `json:"tenant_id"`
	DisplayName string `json:"display_name"`
}

type activateRequest struct {
	BackendLocation string `json:"backend_location"`
}

type membershipRequest struct {
	PrincipalID string      `json:"principal_id"`
	Role        models.Role `json:"role"`
}

// ProvisionTenant registers a new tenant in the provisioning state.
// (POST /api/v1/admin/tenants)
func (s *Server) ProvisionTenant(c echo.Context) error {
	var req provisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	tenant, err := s.tenants.Provision(c.Request().Context(), req.TenantID, req.DisplayName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tenant)
}

// GetTenant returns the full directory record, backend location included.
// (GET /api/v1/admin/tenants/{tenantId})
func (s *Server) GetTenant(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	tenant, err := s.tenants.Lookup(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

// ActivateTenant makes a provisioned tenant routable.
// (POST /api/v1/admin/tenants/{tenantId}/activate)
func (s *Server) ActivateTenant(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	var req activateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.BackendLocation) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "backend_location is required")
	}

	tenant, err := s.tenants.Activate(c.Request().Context(), tenantID, req.BackendLocation)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

// SuspendTenant stops routing to a tenant on every replica.
// (POST /api/v1/admin/tenants/{tenantId}/suspend)
func (s *Server) SuspendTenant(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	tenant, err := s.tenants.Suspend(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

// AddMembership grants a principal a role in the tenant.
// (POST /api/v1/admin/tenants/{tenantId}/memberships)
func (s *Server) AddMembership(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	var req membershipRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.PrincipalID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "principal_id is required")
	}
	if _, err := models.ParseRole(string(req.Role)); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be one of owner, admin, member")
	}

	membership := models.Membership{PrincipalID: req.PrincipalID, TenantID: tenantID, Role: req.Role}
	if err := s.tenants.AddMembership(c.Request().Context(), membership); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, membership)
}
