package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"casevault/backend/internal/repository"
	"casevault/backend/internal/tenancy"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// problemFor maps an error to the problem document shown to callers. Details
// are fixed strings so backend locations and driver messages never leak.
func problemFor(err error) ProblemDetails {
	var (
		denied  *tenancy.AccessDeniedError
		httpErr *echo.HTTPError
	)
	switch {
	case errors.Is(err, tenancy.ErrTenantNotFound), errors.Is(err, repository.ErrNotFound):
		return problem(http.StatusNotFound, "Tenant Not Found", "The tenant does not exist.")
	case errors.Is(err, tenancy.ErrTenantInactive):
		return problem(http.StatusLocked, "Tenant Inactive", "The tenant is not accepting requests.")
	case errors.As(err, &denied):
		p := problem(http.StatusForbidden, "Access Denied", "The caller may not access this tenant.")
		p.Reason = string(denied.Reason)
		return p
	case errors.Is(err, tenancy.ErrUpstreamTimeout):
		return problem(http.StatusGatewayTimeout, "Upstream Timeout", "The tenant backend did not respond in time.")
	case errors.Is(err, tenancy.ErrEstablishFailed):
		return problem(http.StatusBadGateway, "Tenant Backend Unavailable", "A connection to the tenant backend could not be established.")
	case errors.Is(err, tenancy.ErrDirectoryUnavailable):
		return problem(http.StatusServiceUnavailable, "Directory Unavailable", "The tenant directory is unavailable.")
	case errors.Is(err, repository.ErrInvalidTransition):
		return problem(http.StatusConflict, "Invalid Transition", "The tenant cannot move to the requested status.")
	case errors.Is(err, repository.ErrAlreadyExists):
		return problem(http.StatusConflict, "Already Exists", "The resource already exists.")
	case errors.As(err, &httpErr):
		detail := http.StatusText(httpErr.Code)
		if msg, ok := httpErr.Message.(string); ok {
			detail = msg
		}
		return problem(httpErr.Code, http.StatusText(httpErr.Code), detail)
	default:
		return problem(http.StatusInternalServerError, "Internal Server Error", "The request could not be completed.")
	}
}

func problem(status int, title, detail string) ProblemDetails {
	return ProblemDetails{Type: "about:blank", Title: title, Status: status, Detail: detail}
}

// ErrorHandler returns an echo.HTTPErrorHandler that writes problem
// documents and logs the underlying cause.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		p := problemFor(err)
		p.Instance = c.Request().URL.Path
		if p.Status >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("path", p.Instance),
				zap.Int("status", p.Status),
				zap.Error(err))
		}
		if err := writeProblem(c, p); err != nil {
			logger.Warn("Failed to write problem response", zap.Error(err))
		}
	}
}

func writeProblem(c echo.Context, p ProblemDetails) error {
	if c.Request().Method == http.MethodHead {
		return c.NoContent(p.Status)
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(p.Status)
	return json.NewEncoder(c.Response()).Encode(p)
}
