package llm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/config"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrNotConfigured is returned when no enrichment model is configured.
var ErrNotConfigured = errors.New("llm not configured")

// NewClientFromConfig builds the client for the configured provider.
// Returns ErrNotConfigured when the model or credentials are missing, which
// callers treat as "enrichment disabled" rather than a startup failure.
func NewClientFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	if !cfg.IsAvailable() {
		return nil, ErrNotConfigured
	}

	clientCfg := &Config{
		Endpoint: cfg.BaseURL,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewClient(clientCfg, logger)
	case ProviderAnthropic:
		return NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
