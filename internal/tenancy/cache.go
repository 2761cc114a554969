// Package tenancy resolves inbound requests to a ready connection on the
// tenant's isolated backend.
package tenancy

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"casevault/backend/internal/metrics"
)

// DefaultTTL bounds how long a suspension can go unnoticed when an explicit
// invalidation is missed.
const DefaultTTL = 5 * time.Minute

// Handle is an opaque, releasable link to a tenant backend. *pgxpool.Pool
// satisfies it.
type Handle interface {
	Close()
}

// Release reasons reported to metrics and logs.
const (
	releaseReplaced    = "replaced"
	releaseInvalidated = "invalidated"
	releaseExpired     = "expired"
	releaseClosed      = "closed"
)

type cacheEntry struct {
	handle     Handle
	resolvedAt time.Time
	expiresAt  time.Time
}

// ConnectionCache maps tenant ids to established handles for a bounded time.
// Every entry owns its handle: replacing, invalidating, expiring or closing
// the cache releases the superseded handle exactly once. Handles are closed on
// their own goroutine, never on the caller's, since closing a pool waits for
// its checked-out connections.
type ConnectionCache struct {
	mu        sync.RWMutex
	entries   map[string]*cacheEntry
	releasing sync.WaitGroup
	ttl     time.Duration
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// CacheOption configures a ConnectionCache.
type CacheOption func(*ConnectionCache)

func WithClock(clk clock.Clock) CacheOption {
	return func(c *ConnectionCache) { c.clock = clk }
}

func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *ConnectionCache) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *ConnectionCache) { c.metrics = m }
}

// NewConnectionCache creates a cache whose Put uses ttl when none is given.
func NewConnectionCache(ttl time.Duration, opts ...CacheOption) *ConnectionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &ConnectionCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		clock:   clock.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the default entry lifetime.
func (c *ConnectionCache) TTL() time.Duration { return c.ttl }

// Get returns the live handle for tenantID. An expired entry is evicted and
// reported as a miss.
func (c *ConnectionCache) Get(tenantID string) (Handle, bool) {
	handle, ok := c.lookup(tenantID)
	if ok {
		c.metrics.CacheHit()
	} else {
		c.metrics.CacheMiss()
	}
	return handle, ok
}

// lookup is Get without hit/miss accounting.
func (c *ConnectionCache) lookup(tenantID string) (Handle, bool) {
	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.clock.Now().Before(entry.expiresAt) {
		return entry.handle, true
	}

	c.evict(tenantID, entry, releaseExpired)
	return nil, false
}

// Put stores handle for tenantID, replacing and releasing any previous
// handle. A ttl <= 0 uses the cache default.
func (c *ConnectionCache) Put(tenantID string, handle Handle, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.clock.Now()

	c.mu.Lock()
	prev := c.entries[tenantID]
	c.entries[tenantID] = &cacheEntry{
		handle:     handle,
		resolvedAt: now,
		expiresAt:  now.Add(ttl),
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.SetCacheEntries(size)
	if prev != nil && prev.handle != handle {
		c.release(tenantID, prev, releaseReplaced)
	}
}

// Invalidate removes and releases the entry for tenantID. It reports whether
// an entry was present.
func (c *ConnectionCache) Invalidate(tenantID string) bool {
	c.mu.Lock()
	entry, ok := c.entries[tenantID]
	if ok {
		delete(c.entries, tenantID)
	}
	size := len(c.entries)
	c.mu.Unlock()

	if !ok {
		return false
	}
	c.metrics.SetCacheEntries(size)
	c.release(tenantID, entry, releaseInvalidated)
	return true
}

// Sweep releases every entry that expired at or before now and returns how
// many were removed.
func (c *ConnectionCache) Sweep(now time.Time) int {
	expired := make(map[string]*cacheEntry)

	c.mu.Lock()
	for tenantID, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			expired[tenantID] = entry
			delete(c.entries, tenantID)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.SetCacheEntries(size)
	for tenantID, entry := range expired {
		c.release(tenantID, entry, releaseExpired)
	}
	return len(expired)
}

// Run sweeps on every interval tick until ctx is done.
func (c *ConnectionCache) Run(ctx context.Context, interval time.Duration) {
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := c.Sweep(now); n > 0 {
				c.logger.Debug("Swept expired tenant connections", zap.Int("count", n))
			}
		}
	}
}

// Len returns the number of entries, expired or not.
func (c *ConnectionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close releases every cached handle and waits until all handles released so
// far are closed.
func (c *ConnectionCache) Close() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	c.metrics.SetCacheEntries(0)
	for tenantID, entry := range entries {
		c.release(tenantID, entry, releaseClosed)
	}
	c.Drain()
}

// Drain blocks until every handle that already left the cache is closed.
func (c *ConnectionCache) Drain() {
	c.releasing.Wait()
}

// evict removes entry only if it is still the current one for tenantID, so a
// concurrent Put or Invalidate never causes a second release.
func (c *ConnectionCache) evict(tenantID string, entry *cacheEntry, reason string) {
	c.mu.Lock()
	current, ok := c.entries[tenantID]
	owned := ok && current == entry
	if owned {
		delete(c.entries, tenantID)
	}
	size := len(c.entries)
	c.mu.Unlock()

	if owned {
		c.metrics.SetCacheEntries(size)
		c.release(tenantID, entry, reason)
	}
}

// release must only be called after the entry left the map.
func (c *ConnectionCache) release(tenantID string, entry *cacheEntry, reason string) {
	age := c.clock.Since(entry.resolvedAt)
	c.releasing.Add(1)
	go func() {
		defer c.releasing.Done()
		entry.handle.Close()
		c.metrics.ConnectionReleased(reason)
		c.logger.Debug("Released tenant connection",
			zap.String("tenant_id", tenantID),
			zap.String("reason", reason),
			zap.Duration("age", age))
	}()
}
