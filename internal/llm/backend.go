package llm

import (
	"context"
	"fmt"

	"github.com/joelkehle/patent-drafter/internal/config"
)

// NewBackend selects the provider named in cfg.Provider.
func NewBackend(ctx context.Context, cfg config.LLMConfig) (Backend, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return NewAnthropicBackend(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "openai":
		return NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "gemini":
		return NewGeminiBackend(ctx, cfg.APIKey, cfg.Model)
	case "ollama":
		return NewOllamaBackend(cfg.BaseURL, cfg.Model)
	case "command":
		return NewCommandBackend(cfg.Command, cfg.AllowedCommands)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.Provider)
	}
}

func GatewayConfig(cfg config.LLMConfig) Config {
	return Config{
		Model:           cfg.Model,
		MaxTokens:       cfg.MaxTokens,
		Timeout:         cfg.Timeout,
		RetryAttempts:   cfg.RetryAttempts,
		RetryDelay:      cfg.RetryDelay,
		MaxInputLength:  cfg.MaxInputLength,
		MaxOutputLength: cfg.MaxOutputLength,
	}
}
