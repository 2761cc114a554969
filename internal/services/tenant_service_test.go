package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"casevault/backend/internal/repository"
	"casevault/backend/internal/tenancy"
	"casevault/backend/pkg/models"
)

// MockBroadcaster satisfies Broadcaster
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Publish(ctx context.Context, tenantID string) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

type closeCounter struct{ closes int }

func (c *closeCounter) Close() { c.closes++ }

func newService(t *testing.T, broadcaster Broadcaster) (*TenantService, *repository.MemoryDirectory, *tenancy.ConnectionCache) {
	t.Helper()
	dir := repository.NewMemoryDirectory(nil)
	cache := tenancy.NewConnectionCache(time.Minute)
	t.Cleanup(cache.Close)
	return NewTenantService(dir, cache, broadcaster, zap.NewNop()), dir, cache
}

func TestTenantService_SuspendInvalidatesAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	broadcaster := new(MockBroadcaster)
	broadcaster.On("Publish", mock.Anything, "acme").Return(nil).Twice()

	svc, _, cache := newService(t, broadcaster)
	_, err := svc.Provision(ctx, "acme", "Acme LLP")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, "acme", "postgres://acme")
	require.NoError(t, err)

	handle := &closeCounter{}
	cache.Put("acme", handle, 0)

	tenant, err := svc.Suspend(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSuspended, tenant.Status)
	cache.Drain()
	assert.Equal(t, 1, handle.closes)
	assert.Equal(t, 0, cache.Len())

	broadcaster.AssertExpectations(t)
}

func TestTenantService_BroadcastFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	broadcaster := new(MockBroadcaster)
	broadcaster.On("Publish", mock.Anything, "acme").Return(errors.New("redis down"))

	svc, _, _ := newService(t, broadcaster)
	_, err := svc.Provision(ctx, "acme", "Acme LLP")
	require.NoError(t, err)

	_, err = svc.Activate(ctx, "acme", "postgres://acme")
	assert.NoError(t, err)
}

func TestTenantService_TransitionErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, nil)

	_, err := svc.Suspend(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.Provision(ctx, "acme", "Acme LLP")
	require.NoError(t, err)
	_, err = svc.Suspend(ctx, "acme")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	_, err = svc.Provision(ctx, "acme", "Again")
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
}

func TestTenantService_AddMembership(t *testing.T) {
	ctx := context.Background()
	svc, dir, _ := newService(t, nil)
	_, err := svc.Provision(ctx, "acme", "Acme LLP")
	require.NoError(t, err)

	require.NoError(t, svc.AddMembership(ctx, models.Membership{PrincipalID: "u1", TenantID: "acme", Role: models.RoleOwner}))
	assert.Error(t, svc.AddMembership(ctx, models.Membership{PrincipalID: "u2", TenantID: "acme", Role: "paralegal"}))

	memberships, err := dir.ListMemberships(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, memberships, 1)
}
