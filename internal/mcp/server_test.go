package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"casevault/backend/internal/repository"
	"casevault/backend/internal/services"
	"casevault/backend/internal/tenancy"
	"casevault/backend/pkg/models"
)

type nopHandle struct{ closed bool }

func (h *nopHandle) Close() { h.closed = true }

func newTestServer(t *testing.T) (*Server, *tenancy.ConnectionCache) {
	t.Helper()
	ctx := context.Background()
	dir := repository.NewMemoryDirectory(nil)
	require.NoError(t, dir.Create(ctx, &models.Tenant{ID: "acme", DisplayName: "Acme LLP"}))

	cache := tenancy.NewConnectionCache(2 * time.Minute)
	t.Cleanup(cache.Close)
	return NewServer(services.NewTenantService(dir, cache, nil, zap.NewNop()), cache), cache
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestTools_ActivateAndSuspend(t *testing.T) {
	ctx := context.Background()
	s, cache := newTestServer(t)

	res, err := s.handleActivate(ctx, call(map[string]interface{}{"tenant_id": "acme", "backend_location": "postgres://acme"}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var tenant models.Tenant
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &tenant))
	assert.Equal(t, models.TenantStatusActive, tenant.Status)

	handle := &nopHandle{}
	cache.Put("acme", handle, 0)

	res, err = s.handleSuspend(ctx, call(map[string]interface{}{"tenant_id": "acme"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	cache.Drain()
	assert.True(t, handle.closed)

	res, err = s.handleLookup(ctx, call(map[string]interface{}{"tenant_id": "acme"}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &tenant))
	assert.Equal(t, models.TenantStatusSuspended, tenant.Status)
}

func TestTools_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t)

	res, err := s.handleLookup(ctx, call(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleLookup(ctx, call(map[string]interface{}{"tenant_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleSuspend(ctx, call(map[string]interface{}{"tenant_id": "acme"}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "provisioning tenants cannot be suspended")
}

func TestTools_CacheStats(t *testing.T) {
	s, cache := newTestServer(t)
	cache.Put("acme", &nopHandle{}, 0)

	res, err := s.handleCacheStats(context.Background(), call(nil))
	require.NoError(t, err)

	var stats struct {
		Entries    int     `json:"entries"`
		TTLSeconds float64 `json:"ttl_seconds"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &stats))
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 120.0, stats.TTLSeconds)
}
