package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"casevault/backend/internal/services"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// CacheStats exposes the router cache figures reported by cache_stats.
type CacheStats interface {
	Len() int
	TTL() time.Duration
}

type Server struct {
	mcpServer *server.MCPServer
	tenants   *services.TenantService
	cache     CacheStats
}

func NewServer(tenants *services.TenantService, cache CacheStats) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"CaseVault Tenant Router",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		tenants: tenants,
		cache:   cache,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"tenant_lookup",
			mcp.WithDescription("Look up a tenant directory record"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant identifier")),
		),
		s.handleLookup,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"tenant_activate",
			mcp.WithDescription("Activate a provisioned tenant at its backend location"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant identifier")),
			mcp.WithString("backend_location", mcp.Required(), mcp.Description("Connection string of the tenant backend")),
		),
		s.handleActivate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"tenant_suspend",
			mcp.WithDescription("Suspend a tenant and drop its cached connections"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant identifier")),
		),
		s.handleSuspend,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cache_stats",
			mcp.WithDescription("Report the connection cache size and entry lifetime"),
		),
		s.handleCacheStats,
	)
}

func (s *Server) handleLookup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, errResult := stringArg(request, "tenant_id")
	if errResult != nil {
		return errResult, nil
	}

	tenant, err := s.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to look up tenant: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(tenant)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleActivate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, errResult := stringArg(request, "tenant_id")
	if errResult != nil {
		return errResult, nil
	}
	location, errResult := stringArg(request, "backend_location")
	if errResult != nil {
		return errResult, nil
	}

	tenant, err := s.tenants.Activate(ctx, tenantID, location)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to activate tenant: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(tenant)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSuspend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, errResult := stringArg(request, "tenant_id")
	if errResult != nil {
		return errResult, nil
	}

	tenant, err := s.tenants.Suspend(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to suspend tenant: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(tenant)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCacheStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := struct {
		Entries    int     `json:"entries"`
		TTLSeconds float64 `json:"ttl_seconds"`
	}{
		Entries:    s.cache.Len(),
		TTLSeconds: s.cache.TTL().Seconds(),
	}
	jsonBytes, _ := json.Marshal(stats)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func stringArg(request mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", mcp.NewToolResultError("Invalid arguments type")
	}
	value, ok := args[name].(string)
	if !ok || value == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return value, nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
