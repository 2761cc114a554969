package tenancy

import (
	"errors"
	"fmt"
)

// Routing failures. Each maps to a distinct external status at the API
// boundary. None of them carry the tenant's backend location.
var (
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrTenantInactive       = errors.New("tenant inactive")
	ErrAccessDenied         = errors.New("access denied")
	ErrUpstreamTimeout      = errors.New("upstream timeout")
	ErrEstablishFailed      = errors.New("tenant backend connection failed")
	ErrDirectoryUnavailable = errors.New("tenant directory unavailable")
)

// DenyReason explains an access denial.
type DenyReason string

const (
	ReasonNotAMember     DenyReason = "not_a_member"
	ReasonTenantInactive DenyReason = "tenant_inactive"
)

// AccessDeniedError is returned when the verifier rejects a principal. It
// matches ErrAccessDenied with errors.Is.
type AccessDeniedError struct {
	Reason DenyReason
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// Outcome returns the audit label for a routing result.
func Outcome(err error) string {
	var denied *AccessDeniedError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, ErrTenantInactive):
		return "tenant_inactive"
	case errors.As(err, &denied):
		return "access_denied"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrEstablishFailed):
		return "establish_failed"
	case errors.Is(err, ErrDirectoryUnavailable):
		return "directory_unavailable"
	default:
		return "error"
	}
}
