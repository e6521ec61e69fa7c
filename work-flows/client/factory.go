package client

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderGroq       = "groq"
	ProviderAnthropic  = "anthropic"
)

type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Retry    RetryConfig
}

// New builds the provider client named by cfg and wraps it with the retry
// and timeout policy.
func New(cfg Config, logger *zap.Logger) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("API key for provider %q is required", cfg.Provider)
	}

	var inner Client
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenRouter:
		inner = NewOpenRouterClientWithBaseURL(cfg.APIKey, cfg.BaseURL)
	case ProviderOpenAI:
		inner = NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
	case ProviderGroq:
		inner = NewGroqClient(cfg.APIKey)
	case ProviderAnthropic:
		inner = NewAnthropicClient(cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}

	return NewResilientClient(inner, cfg.Retry, cfg.Timeout, logger), nil
}
