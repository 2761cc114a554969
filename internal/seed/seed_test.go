package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"casevault/backend/internal/logging"
	"casevault/backend/internal/repository"
	"casevault/backend/pkg/models"
)

func TestApply_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryDirectory(nil)
	logger := logging.New(zap.NewNop())
	tenants := DevTenants("postgres://localhost:5432/", "dev-principal")

	require.NoError(t, Apply(ctx, repo, tenants, logger))
	require.NoError(t, Apply(ctx, repo, tenants, logger))

	acme, err := repo.Lookup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, acme.Status)
	assert.Equal(t, "postgres://localhost:5432/tenant_acme?sslmode=disable", acme.BackendLocation)

	dormant, err := repo.Lookup(ctx, "dormant")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSuspended, dormant.Status)

	memberships, err := repo.ListMemberships(ctx, "dev-principal")
	require.NoError(t, err)
	assert.Len(t, memberships, 3)
}
