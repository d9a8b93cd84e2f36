package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/ollama/ollama/api"
)

// Supported providers
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderArk      = "ark"
)

// ProviderConfig selects and authenticates the completion backend
type ProviderConfig struct {
	Provider  string        `envconfig:"LLM_PROVIDER" default:"ollama"`
	Model     string        `envconfig:"LLM_MODEL" default:"phi3:mini"`
	BaseURL   string        `envconfig:"LLM_BASE_URL" default:"http://localhost:11434"`
	APIKey    string        `envconfig:"LLM_API_KEY"`
	MaxTokens int           `envconfig:"LLM_MAX_TOKENS" default:"1500"`
	Timeout   time.Duration `envconfig:"LLM_HTTP_TIMEOUT" default:"30s"`
}

// ModelSpec carries the construction-time sampling values for one chat model
type ModelSpec struct {
	Model       string
	Temperature float32
	TopP        float32
	TopK        int
}

// NewChatModel builds the eino chat model for cfg.Provider
func NewChatModel(ctx context.Context, cfg ProviderConfig, spec ModelSpec) (model.BaseChatModel, error) {
	name := spec.Model
	if name == "" {
		name = cfg.Model
	}
	temperature := spec.Temperature
	topP := spec.TopP

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		m, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Model:   name,
			Options: &api.Options{
				Temperature: temperature,
				TopP:        topP,
				TopK:        spec.TopK,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ollama chat model: %w", err)
		}
		return m, nil

	case ProviderOpenAI:
		maxTokens := cfg.MaxTokens
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       name,
			Timeout:     cfg.Timeout,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			TopP:        &topP,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating openai chat model: %w", err)
		}
		return m, nil

	case ProviderDeepSeek:
		m, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       name,
			Timeout:     cfg.Timeout,
			MaxTokens:   cfg.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating deepseek chat model: %w", err)
		}
		return m, nil

	case ProviderArk:
		maxTokens := cfg.MaxTokens
		timeout := cfg.Timeout
		m, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       name,
			Timeout:     &timeout,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			TopP:        &topP,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ark chat model: %w", err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
