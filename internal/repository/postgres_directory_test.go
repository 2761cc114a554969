package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"casevault/backend/pkg/models"
)

func TestPostgresDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("control-plane"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresDirectory(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migration is repeatable")

	t.Run("Lookup unknown tenant", func(t *testing.T) {
		_, err := store.Lookup(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Create and activate", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, &models.Tenant{ID: "acme", DisplayName: "Acme LLP"}))
		assert.ErrorIs(t, store.Create(ctx, &models.Tenant{ID: "acme"}), ErrAlreadyExists)

		tenant, err := store.Lookup(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, models.TenantStatusProvisioning, tenant.Status)
		assert.Equal(t, "Acme LLP", tenant.DisplayName)

		active, err := store.MarkActive(ctx, "acme", "postgres://acme-db/acme")
		require.NoError(t, err)
		assert.Equal(t, models.TenantStatusActive, active.Status)
		assert.Equal(t, "postgres://acme-db/acme", active.BackendLocation)

		_, err = store.MarkActive(ctx, "acme", "postgres://other")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = store.MarkActive(ctx, "ghost", "postgres://ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Suspend twice", func(t *testing.T) {
		first, err := store.Suspend(ctx, "acme")
		require.NoError(t, err)
		second, err := store.Suspend(ctx, "acme")
		require.NoError(t, err)

		assert.Equal(t, models.TenantStatusSuspended, second.Status)
		assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
	})

	t.Run("Suspend provisioning tenant", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, &models.Tenant{ID: "beta"}))
		_, err := store.Suspend(ctx, "beta")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("Memberships", func(t *testing.T) {
		require.NoError(t, store.AddMembership(ctx, models.Membership{PrincipalID: "u1", TenantID: "acme", Role: models.RoleOwner}))
		require.NoError(t, store.AddMembership(ctx, models.Membership{PrincipalID: "u1", TenantID: "beta", Role: models.RoleMember}))
		err := store.AddMembership(ctx, models.Membership{PrincipalID: "u1", TenantID: "acme", Role: models.RoleAdmin})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		err = store.AddMembership(ctx, models.Membership{PrincipalID: "u1", TenantID: "ghost", Role: models.RoleMember})
		assert.ErrorIs(t, err, ErrNotFound)

		memberships, err := store.ListMemberships(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []models.Membership{
			{PrincipalID: "u1", TenantID: "acme", Role: models.RoleOwner},
			{PrincipalID: "u1", TenantID: "beta", Role: models.RoleMember},
		}, memberships)
	})
}
