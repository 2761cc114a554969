package repository

import (
	"context"
	"errors"

	"casevault/backend/pkg/models"
)

var (
	// ErrNotFound is returned when no tenant exists for an id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the tenant's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyExists is returned when creating a tenant or membership that
	// is already present.
	ErrAlreadyExists = errors.New("already exists")
)

// TenantDirectory is the source of truth for tenant existence, location and
// activation state. Implementations do not cache.
type TenantDirectory interface {
	// Lookup returns the tenant record or ErrNotFound. It never mutates.
	Lookup(ctx context.Context, tenantID string) (*models.Tenant, error)
	// Create inserts a tenant in the provisioning state.
	Create(ctx context.Context, tenant *models.Tenant) error
	// MarkActive moves a provisioning tenant to active at backendLocation.
	MarkActive(ctx context.Context, tenantID, backendLocation string) (*models.Tenant, error)
	// Suspend moves an active tenant to suspended. Suspending a suspended
	// tenant is a no-op.
	Suspend(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// MembershipStore holds principal to tenant memberships.
type MembershipStore interface {
	ListMemberships(ctx context.Context, principalID string) ([]models.Membership, error)
	AddMembership(ctx context.Context, membership models.Membership) error
}

// Repository is the control-plane store.
type Repository interface {
	TenantDirectory
	MembershipStore
	Ping(ctx context.Context) error
}
