package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, raw := range []string{"owner", "Admin", " member "} {
		_, err := ParseRole(raw)
		assert.NoError(t, err, raw)
	}

	_, err := ParseRole("partner")
	assert.Error(t, err)
}

func TestMembership_UnmarshalRejectsUnknownRole(t *testing.T) {
	var m Membership
	err := json.Unmarshal([]byte(`{"principal_id":"u1","tenant_id":"acme","role":"superuser"}`), &m)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"principal_id":"u1","tenant_id":"acme","role":"owner"}`), &m)
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, m.Role)
}

func TestTenant_Validate(t *testing.T) {
	provisioning := &Tenant{ID: "acme", Status: TenantStatusProvisioning}
	assert.NoError(t, provisioning.Validate())

	active := &Tenant{ID: "acme", Status: TenantStatusActive}
	assert.Error(t, active.Validate(), "active tenant needs a backend location")

	active.BackendLocation = "postgres://acme-db/acme"
	assert.NoError(t, active.Validate())

	bogus := &Tenant{ID: "acme", Status: "archived", BackendLocation: "x"}
	assert.Error(t, bogus.Validate())
}

func TestTenant_PublicHidesLocation(t *testing.T) {
	tenant := &Tenant{ID: "acme", Status: TenantStatusActive, BackendLocation: "postgres://secret"}
	pub := tenant.Public()
	assert.Empty(t, pub.BackendLocation)
	assert.Equal(t, "postgres://secret", tenant.BackendLocation)
}

func TestPrincipal_MembershipFor(t *testing.T) {
	p := &Principal{
		ID: "u1",
		Memberships: []Membership{
			{PrincipalID: "u1", TenantID: "acme", Role: RoleOwner},
			{PrincipalID: "u2", TenantID: "beta", Role: RoleMember},
		},
	}

	m, ok := p.MembershipFor("acme")
	assert.True(t, ok)
	assert.Equal(t, RoleOwner, m.Role)

	_, ok = p.MembershipFor("beta")
	assert.False(t, ok, "rows belonging to another principal do not count")
}
