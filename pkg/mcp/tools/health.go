package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

type healthResult struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	CycleRunning bool   `json:"cycle_running"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and whether a cycle is running.
func RegisterHealthTool(s ToolRegistrar, deps *WatchToolDeps) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: deps.Version}
		if deps.Watch != nil {
			result.CycleRunning = deps.Watch.IsRunning()
		}
		return jsonResult(result)
	})
}
