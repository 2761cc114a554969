package services

import "context"

// CacheInvalidator drops a tenant's cached backend connection.
type CacheInvalidator interface {
	Invalidate(tenantID string) bool
}

// Broadcaster tells other router replicas to invalidate a tenant.
type Broadcaster interface {
	Publish(ctx context.Context, tenantID string) error
}
