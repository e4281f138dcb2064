// Package tools provides the MCP tools exposed by ekaya-watch.
package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/database"
	"github.com/ekaya-inc/ekaya-watch/pkg/services"
)

// WatchToolDeps contains dependencies for the watch tools.
type WatchToolDeps struct {
	Scopes      database.ScopeProvider
	Competitors services.CompetitorService
	Watch       services.WatchService
	Version     string
	Logger      *zap.Logger
}

// ToolRegistrar accepts tool registrations. Both *server.MCPServer and
// *mcp.Server satisfy it.
type ToolRegistrar interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

// RegisterWatchTools registers every watch tool on the server.
func RegisterWatchTools(s ToolRegistrar, deps *WatchToolDeps) {
	RegisterHealthTool(s, deps)
	registerGetDashboardTool(s, deps)
	registerListSignalsTool(s, deps)
	registerListCompetitorsTool(s, deps)
	registerListAnalysesTool(s, deps)
	registerTriggerScrapeTool(s, deps)
	registerGetScrapeStatusTool(s, deps)
}

// acquireScope returns a context holding a database scope. Tool calls arrive
// over HTTP without the REST scope middleware, so each call takes its own.
func acquireScope(ctx context.Context, deps *WatchToolDeps) (context.Context, func(), error) {
	if _, ok := database.GetScope(ctx); ok {
		return ctx, func() {}, nil
	}
	scopedCtx, cleanup, err := deps.Scopes.WithScope(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return scopedCtx, cleanup, nil
}
