package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"casevault/backend/internal/repository"
	"casevault/backend/pkg/models"
)

// TenantService applies administrative tenant changes and keeps router
// caches consistent with them.
type TenantService struct {
	repo        repository.Repository
	cache       CacheInvalidator
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewTenantService creates a new TenantService. broadcaster may be nil when
// only one router replica runs.
func NewTenantService(repo repository.Repository, cache CacheInvalidator, broadcaster Broadcaster, logger *zap.Logger) *TenantService {
	return &TenantService{
		repo:        repo,
		cache:       cache,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Lookup returns the full tenant record, backend location included.
func (s *TenantService) Lookup(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return s.repo.Lookup(ctx, tenantID)
}

// Provision registers a new tenant in the provisioning state.
func (s *TenantService) Provision(ctx context.Context, tenantID, displayName string) (*models.Tenant, error) {
	tenant := &models.Tenant{
		ID:          strings.TrimSpace(tenantID),
		DisplayName: displayName,
	}
	if err := s.repo.Create(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to provision tenant: %w", err)
	}

	s.logger.Info("Provisioned tenant", zap.String("tenant_id", tenant.ID))
	return tenant, nil
}

// Activate marks a provisioned tenant reachable at backendLocation.
func (s *TenantService) Activate(ctx context.Context, tenantID, backendLocation string) (*models.Tenant, error) {
	tenant, err := s.repo.MarkActive(ctx, tenantID, backendLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to activate tenant: %w", err)
	}

	s.logger.Info("Activated tenant", zap.String("tenant_id", tenantID))
	s.invalidate(ctx, tenantID)
	return tenant, nil
}

// Suspend stops all routing to the tenant. Cached connections are dropped
// here and on every other replica right away instead of waiting for expiry.
func (s *TenantService) Suspend(ctx context.Context, tenantID string) (*models.Tenant, error) {
	tenant, err := s.repo.Suspend(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to suspend tenant: %w", err)
	}

	s.logger.Info("Suspended tenant", zap.String("tenant_id", tenantID))
	s.invalidate(ctx, tenantID)
	return tenant, nil
}

// AddMembership grants principalID a role in tenantID.
func (s *TenantService) AddMembership(ctx context.Context, membership models.Membership) error {
	if _, err := models.ParseRole(string(membership.Role)); err != nil {
		return err
	}
	if err := s.repo.AddMembership(ctx, membership); err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}

	s.logger.Info("Added membership",
		zap.String("principal_id", membership.PrincipalID),
		zap.String("tenant_id", membership.TenantID),
		zap.String("role", string(membership.Role)))
	return nil
}

func (s *TenantService) invalidate(ctx context.Context, tenantID string) {
	if s.cache.Invalidate(tenantID) {
		s.logger.Debug("Invalidated cached tenant connection", zap.String("tenant_id", tenantID))
	}
	if s.broadcaster == nil {
		return
	}
	// Other replicas still expire the entry within one TTL if this fails.
	if err := s.broadcaster.Publish(ctx, tenantID); err != nil {
		s.logger.Warn("Failed to broadcast tenant invalidation",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}
}
