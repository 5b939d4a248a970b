package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/config"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	defaultOpenAIEndpoint = "https://api.openai.com/v1"
)

// NewChatClient creates the translation client for the configured provider.
func NewChatClient(cfg config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	clientCfg := &Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewClient(clientCfg, logger)
	case ProviderAnthropic:
		// The base URL defaults to OpenAI's; only a deliberate override applies here.
		if clientCfg.Endpoint == defaultOpenAIEndpoint {
			clientCfg.Endpoint = ""
		}
		return NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// NewEmbeddingClient creates the OpenAI-compatible client used for schema retrieval.
// Endpoint and key fall back to the chat settings when not set separately.
func NewEmbeddingClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	return NewClient(&Config{
		Endpoint: cfg.EffectiveEmbeddingBaseURL(),
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.EffectiveEmbeddingAPIKey(),
	}, logger.Named("embedding"))
}
