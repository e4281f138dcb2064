package tools

import (
	"context"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/middleware"
	"github.com/ekaya-inc/ekaya-watch/pkg/services"
)

const maxToolDaysBack = 90

func registerTriggerScrapeTool(s ToolRegistrar, deps *WatchToolDeps) {
	tool := mcp.NewTool(
		"trigger_scrape",
		mcp.WithDescription(
			"Start a full watch cycle in the background: scrape every active jurisdiction, poll SEC filings, "+
				"then analyze new matched signals. Returns the cycle ID; poll get_scrape_status for the report. "+
				"Only one cycle runs at a time.",
		),
		mcp.WithNumber("days_back", mcp.Description("Lookback window in days (default: 7, max: 90)")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		daysBack, _ := getOptionalInt(req, "days_back")
		if daysBack < 0 || daysBack > maxToolDaysBack {
			return NewErrorResult("invalid_parameters", "days_back must be between 1 and 90"), nil
		}

		run, err := deps.Watch.StartCycle(ctx, services.CycleOptions{DaysBack: daysBack})
		if err != nil {
			if result := resultForError(err); result != nil {
				return result, nil
			}
			return nil, err
		}

		deps.Logger.Info("Watch cycle triggered via MCP",
			zap.String("request_id", middleware.RequestIDFromContext(ctx)),
			zap.String("cycle_id", run.ID.String()),
			zap.Int("days_back", run.DaysBack))
		return jsonResult(run)
	})
}

func registerGetScrapeStatusTool(s ToolRegistrar, deps *WatchToolDeps) {
	tool := mcp.NewTool(
		"get_scrape_status",
		mcp.WithDescription("Get a watch cycle by ID, or the most recent cycles when no ID is given"),
		mcp.WithString("cycle_id", mcp.Description("Cycle ID returned by trigger_scrape")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := getOptionalString(req, "cycle_id")
		if raw == "" {
			return jsonResult(map[string]any{
				"running": deps.Watch.IsRunning(),
				"cycles":  deps.Watch.ListCycles(),
			})
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			return NewErrorResult("invalid_parameters", "cycle_id must be a UUID"), nil
		}
		run, err := deps.Watch.GetCycle(id)
		if err != nil {
			if result := resultForError(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		return jsonResult(run)
	})
}
