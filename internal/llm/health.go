package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"kardex_assistant/internal/logger"
)

// NewHealthChecker returns the probe matching the configured provider
func NewHealthChecker(cfg ProviderConfig) (HealthChecker, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		return NewOllamaHealth(cfg.BaseURL)
	default:
		return KeyHealth{configured: cfg.APIKey != ""}, nil
	}
}

// OllamaHealth probes a local Ollama server
type OllamaHealth struct {
	client *api.Client
}

// NewOllamaHealth creates a probe against baseURL
func NewOllamaHealth(baseURL string) (*OllamaHealth, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &OllamaHealth{
		client: api.NewClient(u, &http.Client{Timeout: 5 * time.Second}),
	}, nil
}

// IsAvailable pings the server
func (h *OllamaHealth) IsAvailable(ctx context.Context) bool {
	if err := h.client.Heartbeat(ctx); err != nil {
		logger.Warn().Err(err).Msg("Ollama not available")
		return false
	}
	return true
}

// HasModel checks that model (with or without tag) is pulled
func (h *OllamaHealth) HasModel(ctx context.Context, model string) bool {
	resp, err := h.client.List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not list Ollama models")
		return false
	}
	for _, m := range resp.Models {
		if m.Name == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return true
		}
	}
	return false
}

// KeyHealth treats hosted providers as available when an API key is configured
type KeyHealth struct {
	configured bool
}

func (k KeyHealth) IsAvailable(context.Context) bool { return k.configured }

func (k KeyHealth) HasModel(context.Context, string) bool { return k.configured }
