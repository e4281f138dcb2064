package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Returning it as a tool result keeps the details visible to the calling
// model instead of being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors the caller can act on (bad parameters,
// unknown IDs, a cycle already running).
//
// Do NOT use this for system failures such as database connection errors;
// those should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// resultForError converts actionable service errors into tool results.
// Returns nil for errors that should propagate as Go errors.
func resultForError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error())
	case errors.Is(err, apperrors.ErrInvalidConfig):
		return NewErrorResult("invalid_parameters", err.Error())
	case errors.Is(err, apperrors.ErrCycleInProgress):
		return NewErrorResult("cycle_in_progress", "a watch cycle is already running; check get_scrape_status")
	}
	return nil
}
