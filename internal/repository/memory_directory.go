package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"casevault/backend/pkg/models"
)

// MemoryDirectory is an in-process Repository used in dev mode and tests.
type MemoryDirectory struct {
	mu          sync.RWMutex
	tenants     map[string]models.Tenant
	memberships map[string]map[string]models.Role // principal -> tenant -> role
	clock       clock.Clock
}

// NewMemoryDirectory creates an empty directory. A nil clock uses wall time.
func NewMemoryDirectory(clk clock.Clock) *MemoryDirectory {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryDirectory{
		tenants:     make(map[string]models.Tenant),
		memberships: make(map[string]map[string]models.Role),
		clock:       clk,
	}
}

func (d *MemoryDirectory) Ping(ctx context.Context) error { return ctx.Err() }

func (d *MemoryDirectory) Lookup(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("lookup tenant %s: %w", tenantID, ErrNotFound)
	}
	return &t, nil
}

func (d *MemoryDirectory) Create(ctx context.Context, tenant *models.Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := d.clock.Now().UTC()
	tenant.Status = models.TenantStatusProvisioning
	tenant.BackendLocation = ""
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if err := tenant.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tenants[tenant.ID]; ok {
		return fmt.Errorf("create tenant %s: %w", tenant.ID, ErrAlreadyExists)
	}
	d.tenants[tenant.ID] = *tenant
	return nil
}

func (d *MemoryDirectory) MarkActive(ctx context.Context, tenantID, backendLocation string) (*models.Tenant, error) {
	if strings.TrimSpace(backendLocation) == "" {
		return nil, errors.New("backend location is required")
	}
	return d.transition(ctx, tenantID, func(t *models.Tenant) (bool, error) {
		if t.Status != models.TenantStatusProvisioning {
			return false, fmt.Errorf("tenant %s %s -> active: %w", tenantID, t.Status, ErrInvalidTransition)
		}
		t.Status = models.TenantStatusActive
		t.BackendLocation = backendLocation
		return true, nil
	})
}

func (d *MemoryDirectory) Suspend(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return d.transition(ctx, tenantID, func(t *models.Tenant) (bool, error) {
		switch t.Status {
		case models.TenantStatusSuspended:
			return false, nil
		case models.TenantStatusActive:
			t.Status = models.TenantStatusSuspended
			return true, nil
		default:
			return false, fmt.Errorf("tenant %s %s -> suspended: %w", tenantID, t.Status, ErrInvalidTransition)
		}
	})
}

// transition applies fn to a copy of the tenant and stores it when fn
// reports a change.
func (d *MemoryDirectory) transition(ctx context.Context, tenantID string, fn func(*models.Tenant) (bool, error)) (*models.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	changed, err := fn(&t)
	if err != nil {
		return nil, err
	}
	if changed {
		t.UpdatedAt = d.clock.Now().UTC()
		d.tenants[tenantID] = t
	}
	return &t, nil
}

func (d *MemoryDirectory) ListMemberships(ctx context.Context, principalID string) ([]models.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var memberships []models.Membership
	for tenantID, role := range d.memberships[principalID] {
		memberships = append(memberships, models.Membership{PrincipalID: principalID, TenantID: tenantID, Role: role})
	}
	sort.Slice(memberships, func(i, j int) bool { return memberships[i].TenantID < memberships[j].TenantID })
	return memberships, nil
}

func (d *MemoryDirectory) AddMembership(ctx context.Context, membership models.Membership) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	role, err := models.ParseRole(string(membership.Role))
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tenants[membership.TenantID]; !ok {
		return fmt.Errorf("tenant %s: %w", membership.TenantID, ErrNotFound)
	}
	byTenant := d.memberships[membership.PrincipalID]
	if byTenant == nil {
		byTenant = make(map[string]models.Role)
		d.memberships[membership.PrincipalID] = byTenant
	}
	if _, ok := byTenant[membership.TenantID]; ok {
		return fmt.Errorf("add membership %s/%s: %w", membership.PrincipalID, membership.TenantID, ErrAlreadyExists)
	}
	byTenant[membership.TenantID] = role
	return nil
}
