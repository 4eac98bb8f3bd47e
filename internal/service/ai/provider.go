package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"codesmith/internal/config"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// ollama ignores the key but the OpenAI-compatible client insists on one.
const ollamaPlaceholderKey = "ollama"

const claudeMaxTokens = 3000

// NewChatModel builds the chat model for modelName on the configured provider.
// Ollama is reached through its OpenAI-compatible endpoint.
func NewChatModel(ctx context.Context, cfg *config.Config, modelName string) (model.BaseChatModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	provider := cfg.Generation.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	temperature := cfg.Generation.Temperature

	switch provider {
	case ProviderOllama, ProviderOpenAI:
		apiKey := provCfg.APIKey
		if apiKey == "" && provider == ProviderOllama {
			apiKey = ollamaPlaceholderKey
		}
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     provCfg.BaseURL,
			Model:       modelName,
			APIKey:      apiKey,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("init %s chat model: %w", provider, err)
		}
		return chatModel, nil
	case ProviderClaude:
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:      provCfg.APIKey,
			Model:       modelName,
			BaseURL:     baseURLPtr,
			MaxTokens:   claudeMaxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("init claude chat model: %w", err)
		}
		return chatModel, nil
	case ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       modelName,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini chat model: %w", err)
		}
		return chatModel, nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}
