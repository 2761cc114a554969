package models

import (
	"fmt"
	"strings"
)

// Role is the coarse role a principal holds inside a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole converts a raw role label. Unknown roles are rejected rather than
// carried through as free-form strings.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOwner, RoleAdmin, RoleMember:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// UnmarshalText makes JSON, YAML and form decoding reject unknown roles.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Membership grants a principal access to a single tenant.
type Membership struct {
	PrincipalID string `json:"principal_id"`
	TenantID    string `json:"tenant_id"`
	Role        Role   `json:"role"`
}

// Principal is an authenticated caller together with the memberships the
// identity layer resolved for it.
type Principal struct {
	ID          string       `json:"id"`
	Memberships []Membership `json:"memberships"`
}

// MembershipFor returns the principal's membership in tenantID, if any.
func (p *Principal) MembershipFor(tenantID string) (Membership, bool) {
	for _, m := range p.Memberships {
		if m.PrincipalID == p.ID && m.TenantID == tenantID {
			return m, true
		}
	}
	return Membership{}, false
}
