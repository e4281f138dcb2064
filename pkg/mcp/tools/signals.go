package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

const (
	defaultSignalLimit = 25
	maxSignalLimit     = 200
)

// signalSummary trims a signal to what a model needs to reason about it.
type signalSummary struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Jurisdiction string   `json:"jurisdiction"`
	Title        string   `json:"title"`
	Address      *string  `json:"address,omitempty"`
	OccurredAt   string   `json:"occurred_at"`
	Link         *string  `json:"link,omitempty"`
	Priority     int      `json:"priority"`
	Competitor   *string  `json:"competitor,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Analyzed     bool     `json:"analyzed"`
}

func summarizeSignal(s *models.CompetitorSignal) signalSummary {
	return signalSummary{
		ID:           s.ID.String(),
		Type:         s.Type,
		Jurisdiction: s.Jurisdiction,
		Title:        s.Title,
		Address:      s.Address,
		OccurredAt:   s.OccurredAt.Format(time.DateOnly),
		Link:         s.Link,
		Priority:     s.Priority,
		Competitor:   s.CompetitorMatch,
		Confidence:   s.Confidence,
		Analyzed:     s.Analyzed,
	}
}

func registerListSignalsTool(s ToolRegistrar, deps *WatchToolDeps) {
	tool := mcp.NewTool(
		"list_signals",
		mcp.WithDescription(
			"List competitor signals newest first. Signals are building permits, SEC filings and "+
				"public meeting agenda items. Priority runs 1-9; 8 and above is high priority.",
		),
		mcp.WithString("jurisdiction", mcp.Description("Jurisdiction key, e.g. 'austin', or 'national' for SEC filings")),
		mcp.WithString("type", mcp.Description("Signal type: 'permit', 'sec_filing' or 'agenda'")),
		mcp.WithString("competitor", mcp.Description("Only signals matched to this competitor name")),
		mcp.WithNumber("min_priority", mcp.Description("Minimum priority (1-9)")),
		mcp.WithNumber("days", mcp.Description("Only signals that occurred in the last N days")),
		mcp.WithNumber("limit", mcp.Description("Max signals to return (default: 25, max: 200)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filters := models.SignalFilters{
			Jurisdiction: getOptionalString(req, "jurisdiction"),
			Type:         getOptionalString(req, "type"),
			Competitor:   getOptionalString(req, "competitor"),
		}
		switch filters.Type {
		case "", models.SignalTypePermit, models.SignalTypeSECFiling, models.SignalTypeAgenda:
		default:
			return NewErrorResult("invalid_parameters",
				fmt.Sprintf("invalid type %q: must be one of 'permit', 'sec_filing', 'agenda'", filters.Type)), nil
		}

		if p, ok := getOptionalInt(req, "min_priority"); ok {
			if p < 0 || p > models.MaxPriority {
				return NewErrorResult("invalid_parameters", "min_priority must be between 1 and 9"), nil
			}
			filters.MinPriority = p
		}
		if days, ok := getOptionalInt(req, "days"); ok && days > 0 {
			since := time.Now().AddDate(0, 0, -days)
			filters.Since = &since
		}
		limit, ok := getOptionalInt(req, "limit")
		filters.Limit = clampLimit(limit, ok, defaultSignalLimit, maxSignalLimit)

		scopedCtx, cleanup, err := acquireScope(ctx, deps)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		signals, err := deps.Competitors.ListSignals(scopedCtx, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list signals: %w", err)
		}

		summaries := make([]signalSummary, 0, len(signals))
		for _, sig := range signals {
			summaries = append(summaries, summarizeSignal(sig))
		}
		return jsonResult(map[string]any{
			"signals": summaries,
			"count":   len(summaries),
		})
	})
}

func registerListAnalysesTool(s ToolRegistrar, deps *WatchToolDeps) {
	tool := mcp.NewTool(
		"list_analyses",
		mcp.WithDescription("List model-written competitive analyses of high-value signals, newest first"),
		mcp.WithString("competitor_id", mcp.Description("Only analyses for this competitor entity ID")),
		mcp.WithNumber("limit", mcp.Description("Max analyses to return (default: 10, max: 50)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filters := models.AnalysisFilters{}
		if raw := getOptionalString(req, "competitor_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return NewErrorResult("invalid_parameters", "competitor_id must be a UUID"), nil
			}
			filters.CompetitorID = &id
		}
		limit, ok := getOptionalInt(req, "limit")
		filters.Limit = clampLimit(limit, ok, 10, 50)

		scopedCtx, cleanup, err := acquireScope(ctx, deps)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		analyses, err := deps.Competitors.ListAnalyses(scopedCtx, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list analyses: %w", err)
		}
		return jsonResult(map[string]any{
			"analyses": analyses,
			"count":    len(analyses),
		})
	})
}
