package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType classifies an LLM failure.
type ErrorType string

const (
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeRateLimit ErrorType = "rate_limited"
	ErrorTypeResponse  ErrorType = "response" // reply arrived but was empty or unusable
	ErrorTypeCancelled ErrorType = "cancelled"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Model      string
	Endpoint   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewErrorWithContext creates a new structured LLM error carrying model and endpoint.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	return &Error{
		Type:       errType,
		Message:    message,
		Retryable:  retryable,
		Cause:      cause,
		Model:      model,
		Endpoint:   endpoint,
		StatusCode: statusCode,
	}
}

var statusCodePattern = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)

func extractStatusCode(errStr string) int {
	m := statusCodePattern.FindString(errStr)
	if m == "" {
		return 0
	}
	code, _ := strconv.Atoi(m)
	return code
}

// ClassifyError categorizes an error and returns a structured Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeCancelled, "request cancelled", false, err)
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)
	statusCode := extractStatusCode(errStr)

	classified := func(t ErrorType, msg string, retryable bool) *Error {
		e := NewError(t, msg, retryable, err)
		e.StatusCode = statusCode
		return e
	}

	switch {
	case statusCode == 401 || statusCode == 403 ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid x-api-key"):
		return classified(ErrorTypeAuth, "authentication failed", false)
	case strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return classified(ErrorTypeModel, "model not found", false)
	case statusCode == 404:
		return classified(ErrorTypeEndpoint, "endpoint not found", false)
	case statusCode == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "overloaded"):
		return classified(ErrorTypeRateLimit, "rate limited", true)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return classified(ErrorTypeEndpoint, "connection failed", true)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return classified(ErrorTypeEndpoint, "request timeout", true)
	case statusCode >= 500:
		return classified(ErrorTypeEndpoint, "server error", true)
	}

	return classified(ErrorTypeUnknown, "llm error", false)
}

// classifyWithContext classifies err and records which model and endpoint produced it.
func classifyWithContext(err error, model, endpoint string) *Error {
	c := ClassifyError(err)
	return NewErrorWithContext(c.Type, c.Message, c.Retryable, err, model, endpoint, c.StatusCode)
}

// IsRetryable returns true if the error is a retryable LLM error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
