package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicClient generates completions through the Anthropic Messages API.
type AnthropicClient struct {
	client    *anthropic.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicClient creates a client for the Anthropic provider.
// cfg.Endpoint overrides the API base URL when set.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for anthropic")
	}

	var opts []anthropic.ClientOption
	endpoint := "https://api.anthropic.com/v1"
	if cfg.Endpoint != "" {
		endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
		opts = append(opts, anthropic.WithBaseURL(endpoint))
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		endpoint:  endpoint,
		model:     cfg.Model,
		maxTokens: anthropicDefaultMaxTokens,
		logger:    logger.Named("llm-anthropic"),
	}, nil
}

// GenerateResponse sends one user message and concatenates the text blocks of the reply.
func (c *AnthropicClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
) (*GenerateResponseResult, error) {
	temp := float32(temperature)
	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		System:      systemMessage,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					{Type: "text", Text: &prompt},
				},
			},
		},
	})
	if err != nil {
		c.logger.Error("Anthropic request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, classifyWithContext(err, c.model, c.endpoint)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			sb.WriteString(*block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, NewError(ErrorTypeResponse, "no text content in response", true, nil)
	}

	c.logger.Debug("Anthropic request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResponseResult{
		Content:          sb.String(),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *AnthropicClient) GetEndpoint() string {
	return c.endpoint
}
