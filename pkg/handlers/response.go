package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
)

// ApiResponse wraps data in the format expected by the dashboard.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData writes a successful ApiResponse, logging encoding failures.
func writeData(w http.ResponseWriter, logger *zap.Logger, statusCode int, data any) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError writes an error response, logging encoding failures.
func writeError(w http.ResponseWriter, logger *zap.Logger, statusCode int, errorCode, message string) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeServiceError maps sentinel errors to HTTP status codes. Unknown errors
// are logged and reported as 500 without leaking details.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		writeError(w, logger, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, apperrors.ErrConflict):
		writeError(w, logger, http.StatusConflict, "conflict", "Resource already exists")
	case errors.Is(err, apperrors.ErrInvalidConfig):
		writeError(w, logger, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, apperrors.ErrCycleInProgress):
		writeError(w, logger, http.StatusConflict, "cycle_in_progress", "A watch cycle is already running")
	default:
		logger.Error("Failed to "+action, zap.Error(err))
		writeError(w, logger, http.StatusInternalServerError, "internal_error", "Failed to "+action)
	}
}
