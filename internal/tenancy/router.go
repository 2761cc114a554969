package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"casevault/backend/internal/audit"
	"casevault/backend/internal/metrics"
	"casevault/backend/internal/repository"
	"casevault/backend/pkg/models"
)

// Directory is the read side of the tenant directory the router needs.
type Directory interface {
	Lookup(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Connector establishes a handle to a tenant backend.
type Connector interface {
	Establish(ctx context.Context, backendLocation string) (Handle, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, backendLocation string) (Handle, error)

func (f ConnectorFunc) Establish(ctx context.Context, backendLocation string) (Handle, error) {
	return f(ctx, backendLocation)
}

// DefaultEstablishTimeout bounds a shared establishment, which runs detached
// from its callers, when RouterConfig sets no EstablishTimeout.
const DefaultEstablishTimeout = 30 * time.Second

// RouterConfig bounds the router's blocking work. A zero LookupTimeout leaves
// the caller's context as the only limit; a zero EstablishTimeout uses
// DefaultEstablishTimeout.
type RouterConfig struct {
	TTL              time.Duration
	LookupTimeout    time.Duration
	EstablishTimeout time.Duration
}

// Router turns (principal, tenant id) into a ready handle or a typed error.
type Router struct {
	directory Directory
	verifier  AccessVerifier
	cache     *ConnectionCache
	connector Connector
	sink      audit.Sink
	cfg       RouterConfig
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics

	establishing singleflight.Group
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithSink(sink audit.Sink) RouterOption {
	return func(r *Router) { r.sink = sink }
}

func WithRouterClock(clk clock.Clock) RouterOption {
	return func(r *Router) { r.clock = clk }
}

func WithRouterLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

func WithRouterMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter wires the routing pipeline.
func NewRouter(directory Directory, cache *ConnectionCache, connector Connector, cfg RouterConfig, opts ...RouterOption) *Router {
	if cfg.TTL <= 0 {
		cfg.TTL = cache.TTL()
	}
	r := &Router{
		directory: directory,
		cache:     cache,
		connector: connector,
		sink:      audit.SinkFunc(func(audit.Event) {}),
		cfg:       cfg,
		clock:     clock.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache exposes the router's connection cache.
func (r *Router) Cache() *ConnectionCache { return r.cache }

// Route resolves principal's request for tenantID to a connection handle.
// The handle stays owned by the cache; callers must not close it.
func (r *Router) Route(ctx context.Context, principal models.Principal, tenantID string) (Handle, error) {
	start := r.clock.Now()
	handle, cacheHit, err := r.route(ctx, principal, tenantID)

	event := audit.Event{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		PrincipalID: principal.ID,
		Outcome:     Outcome(err),
		CacheHit:    cacheHit,
		Latency:     r.clock.Since(start),
		At:          start,
	}
	var denied *AccessDeniedError
	if errors.As(err, &denied) {
		event.Reason = string(denied.Reason)
	}
	r.sink.Record(event)

	return handle, err
}

func (r *Router) route(ctx context.Context, principal models.Principal, tenantID string) (Handle, bool, error) {
	tenant, err := r.lookup(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}

	// Status is checked before the cache so a handle cached before a
	// suspension is never served.
	if !tenant.IsActive() {
		if r.cache.Invalidate(tenantID) {
			r.logger.Info("Dropped cached connection for inactive tenant",
				zap.String("tenant_id", tenantID),
				zap.String("status", string(tenant.Status)))
		}
		return nil, false, ErrTenantInactive
	}

	if err := r.verifier.Verify(principal.ID, tenant, principal.Memberships).Err(); err != nil {
		return nil, false, err
	}

	if handle, ok := r.cache.Get(tenantID); ok {
		return handle, true, nil
	}

	handle, err := r.establish(ctx, tenant)
	return handle, false, err
}

func (r *Router) lookup(ctx context.Context, tenantID string) (*models.Tenant, error) {
	lookupCtx, cancel := withOptionalTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	tenant, err := r.directory.Lookup(lookupCtx, tenantID)
	switch {
	case err == nil:
		return tenant, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrTenantNotFound
	case isTimeout(lookupCtx, err):
		return nil, ErrUpstreamTimeout
	default:
		r.logger.Error("Tenant directory lookup failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, ErrDirectoryUnavailable
	}
}

// establish connects to the tenant backend and caches the handle. Concurrent
// misses for one tenant share a single establishment that no single caller
// can cancel; each waiter still honours its own context.
func (r *Router) establish(ctx context.Context, tenant *models.Tenant) (Handle, error) {
	shared := context.WithoutCancel(ctx)
	results := r.establishing.DoChan(tenant.ID, func() (any, error) {
		// A flight that finished just before this one started may already
		// have cached a handle.
		if handle, ok := r.cache.lookup(tenant.ID); ok {
			return handle, nil
		}

		establishCtx, cancel := context.WithTimeout(shared, r.establishTimeout())
		defer cancel()

		handle, err := r.connector.Establish(establishCtx, tenant.BackendLocation)
		if err != nil {
			if isTimeout(establishCtx, err) {
				return nil, ErrUpstreamTimeout
			}
			r.logger.Error("Failed to establish tenant connection",
				zap.String("tenant_id", tenant.ID),
				zap.Error(err))
			return nil, ErrEstablishFailed
		}
		if establishCtx.Err() != nil {
			// Arrived after the deadline: never cache it.
			handle.Close()
			return nil, ErrUpstreamTimeout
		}

		r.metrics.ConnectionEstablished()
		r.cache.Put(tenant.ID, handle, r.cfg.TTL)

		// A suspension that landed between the status check and the Put
		// invalidated nothing; drop the handle ourselves.
		if !r.stillActive(shared, tenant.ID) {
			r.cache.Invalidate(tenant.ID)
			return nil, ErrTenantInactive
		}

		r.logger.Debug("Cached tenant connection",
			zap.String("tenant_id", tenant.ID),
			zap.Duration("ttl", r.cfg.TTL))
		return handle, nil
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Handle), nil
	case <-ctx.Done():
		return nil, ErrUpstreamTimeout
	}
}

// stillActive re-reads the tenant's status. A failed read keeps the handle;
// the next Route checks status again before serving it.
func (r *Router) stillActive(ctx context.Context, tenantID string) bool {
	lookupCtx, cancel := withOptionalTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	tenant, err := r.directory.Lookup(lookupCtx, tenantID)
	if err != nil {
		r.logger.Warn("Could not re-check tenant status after connecting",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return true
	}
	return tenant.IsActive()
}

func (r *Router) establishTimeout() time.Duration {
	if r.cfg.EstablishTimeout > 0 {
		return r.cfg.EstablishTimeout
	}
	return DefaultEstablishTimeout
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		ctx.Err() != nil
}

// String formats the config for startup logs.
func (c RouterConfig) String() string {
	return fmt.Sprintf("ttl=%s lookup_timeout=%s establish_timeout=%s", c.TTL, c.LookupTimeout, c.EstablishTimeout)
}
