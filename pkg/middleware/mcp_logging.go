package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/logging"
)

const (
	mcpToolCallMethod = "tools/call"
	maxLoggedArgument = 200
)

var sensitiveArgumentKeywords = []string{"password", "secret", "token", "key", "credential"}

// MCPRequestLogger returns middleware that logs MCP JSON-RPC traffic.
// tools/call requests produce one INFO line with the tool name, sanitized
// arguments and duration; failed calls log at WARN. Protocol chatter such as
// initialize and tools/list logs at DEBUG.
// Pass nil logger to disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var rpcReq jsonRPCRequest
			if err := json.Unmarshal(bodyBytes, &rpcReq); err != nil {
				// Let the MCP server produce the parse error response.
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}

			recorder := &mcpResponseRecorder{ResponseWriter: w, body: &bytes.Buffer{}}
			start := time.Now()

			next.ServeHTTP(recorder, r)

			duration := time.Since(start)

			if rpcReq.Method != mcpToolCallMethod {
				logger.Debug("MCP request",
					zap.String("method", rpcReq.Method),
					zap.Duration("duration", duration))
				return
			}

			fields := []zap.Field{
				zap.String("tool", rpcReq.Params.Name),
				zap.Any("arguments", sanitizeArguments(rpcReq.Params.Arguments)),
				zap.Duration("duration", duration),
			}

			var rpcResp jsonRPCResponse
			if err := json.Unmarshal(recorder.body.Bytes(), &rpcResp); err != nil {
				logger.Debug("Failed to parse MCP response JSON", zap.Error(err))
				logger.Info("MCP tool call", fields...)
				return
			}

			switch {
			case rpcResp.Error != nil:
				logger.Warn("MCP tool call failed", append(fields,
					zap.Int("error_code", rpcResp.Error.Code),
					zap.String("error_message", rpcResp.Error.Message))...)
			case rpcResp.Result.IsError:
				logger.Warn("MCP tool call failed", append(fields,
					zap.String("error_message", rpcResp.Result.text()))...)
			default:
				logger.Info("MCP tool call", fields...)
			}
		})
	}
}

// jsonRPCRequest is the subset of a JSON-RPC request needed for logging.
type jsonRPCRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

// jsonRPCResponse distinguishes protocol errors from tool-level errors.
type jsonRPCResponse struct {
	Result toolResult    `json:"result"`
	Error  *jsonRPCError `json:"error"`
}

type toolResult struct {
	IsError bool `json:"isError"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (t toolResult) text() string {
	for _, c := range t.Content {
		if c.Type == "text" && c.Text != "" {
			return logging.TruncateString(c.Text, maxLoggedArgument)
		}
	}
	return ""
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpResponseRecorder tees the response body for inspection.
type mcpResponseRecorder struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// sanitizeArguments redacts sensitive fields and truncates long values.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	result := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveArgument(k) {
			result[k] = logging.RedactedText
			continue
		}
		if str, ok := v.(string); ok {
			result[k] = logging.TruncateString(str, maxLoggedArgument)
			continue
		}
		result[k] = v
	}
	return result
}

func isSensitiveArgument(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range sensitiveArgumentKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
