package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func registerGetDashboardTool(s ToolRegistrar, deps *WatchToolDeps) {
	tool := mcp.NewTool(
		"get_dashboard",
		mcp.WithDescription(
			"Get the 30-day competitor activity overview: signal counts by type, jurisdiction and competitor, "+
				"high-priority signals and the most recent analyses.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scopedCtx, cleanup, err := acquireScope(ctx, deps)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		dashboard, err := deps.Competitors.GetDashboard(scopedCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to load dashboard: %w", err)
		}

		high := make([]signalSummary, 0, len(dashboard.HighPrioritySignals))
		for _, sig := range dashboard.HighPrioritySignals {
			high = append(high, summarizeSignal(sig))
		}
		return jsonResult(map[string]any{
			"window_days":             dashboard.WindowDays,
			"total_signals":           dashboard.TotalSignals,
			"signals_by_type":         dashboard.SignalsByType,
			"signals_by_jurisdiction": dashboard.SignalsByJurisdiction,
			"signals_by_competitor":   dashboard.SignalsByCompetitor,
			"high_priority_signals":   high,
			"recent_analyses":         dashboard.RecentAnalyses,
			"active_competitors":      len(dashboard.ActiveCompetitors),
			"active_jurisdictions":    len(dashboard.ActiveJurisdictions),
		})
	})
}

func registerListCompetitorsTool(s ToolRegistrar, deps *WatchToolDeps) {
	tool := mcp.NewTool(
		"list_competitors",
		mcp.WithDescription("List tracked competitor entities with their match keywords"),
		mcp.WithBoolean("active", mcp.Description("Filter by active flag (default: all)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var active *bool
		if v, ok := getOptionalBool(req, "active"); ok {
			active = &v
		}

		scopedCtx, cleanup, err := acquireScope(ctx, deps)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		entities, err := deps.Competitors.ListEntities(scopedCtx, active)
		if err != nil {
			return nil, fmt.Errorf("failed to list competitors: %w", err)
		}
		return jsonResult(map[string]any{
			"competitors": entities,
			"count":       len(entities),
		})
	})
}
