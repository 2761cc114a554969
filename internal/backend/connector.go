// Package backend opens connections to tenant databases.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"casevault/backend/internal/tenancy"
)

// PoolConnector opens one pgx pool per tenant backend location.
type PoolConnector struct {
	maxConns int32
	minConns int32
}

// NewPoolConnector creates a connector. Zero values keep pgx defaults.
func NewPoolConnector(maxConns, minConns int32) *PoolConnector {
	return &PoolConnector{maxConns: maxConns, minConns: minConns}
}

// Establish parses location as a pgx connection string, opens a pool and
// pings it. A malformed location is reported without echoing it.
func (c *PoolConnector) Establish(ctx context.Context, location string) (tenancy.Handle, error) {
	poolConfig, err := pgxpool.ParseConfig(location)
	if err != nil {
		return nil, errors.New("failed to parse tenant backend location")
	}
	if c.maxConns > 0 {
		poolConfig.MaxConns = c.maxConns
	}
	if c.minConns > 0 {
		poolConfig.MinConns = c.minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping tenant backend: %w", err)
	}

	return pool, nil
}
