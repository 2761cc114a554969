package tenancy

import "casevault/backend/pkg/models"

// Decision is the result of an access check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// Err returns nil for an allowed decision and an *AccessDeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &AccessDeniedError{Reason: d.Reason}
}

// AccessVerifier decides whether a principal may be routed to a tenant. It
// holds no state.
type AccessVerifier struct{}

// Verify checks activation first, then membership of principalID in tenant.
func (AccessVerifier) Verify(principalID string, tenant *models.Tenant, memberships []models.Membership) Decision {
	if !tenant.IsActive() {
		return Decision{Reason: ReasonTenantInactive}
	}
	for _, m := range memberships {
		if m.PrincipalID == principalID && m.TenantID == tenant.ID {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: ReasonNotAMember}
}
