// Package invalidation propagates tenant cache invalidations between router
// replicas over Redis pub/sub.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "casevault:tenant-invalidations"

// Message is published whenever a tenant's status or location changes.
type Message struct {
	TenantID string    `json:"tenant_id"`
	Origin   string    `json:"origin"`
	At       time.Time `json:"at"`
}

// Invalidator drops a tenant's cached connection.
type Invalidator interface {
	Invalidate(tenantID string) bool
}

// RedisBroadcaster publishes and receives invalidations. Messages published
// by this instance are ignored on receipt since the local cache was already
// invalidated before publishing.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

// NewRedisBroadcaster creates a broadcaster with a random origin id.
func NewRedisBroadcaster(client *redis.Client, channel string, logger *zap.Logger) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Connect creates a Redis client and verifies it can reach the server.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Publish announces that tenantID must be invalidated everywhere.
func (b *RedisBroadcaster) Publish(ctx context.Context, tenantID string) error {
	payload, err := json.Marshal(Message{TenantID: tenantID, Origin: b.origin, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe applies remote invalidations to target until ctx is done.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, target Invalidator) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so no message published
	// after Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(msg.Payload, target)
		}
	}
}

func (b *RedisBroadcaster) handle(payload string, target Invalidator) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		b.logger.Warn("Discarding malformed invalidation", zap.Error(err))
		return
	}
	if m.Origin == b.origin || m.TenantID == "" {
		return
	}
	dropped := target.Invalidate(m.TenantID)
	b.logger.Info("Applied remote invalidation",
		zap.String("tenant_id", m.TenantID),
		zap.String("origin", m.Origin),
		zap.Bool("dropped", dropped))
}
