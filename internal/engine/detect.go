package engine

import (
	"fmt"
	"strings"
)

// Provider names accepted by Detect.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider        string
	OllamaBaseURL   string
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AnthropicURL    string
}

// Detect returns the Engine for cfg.Provider. An empty provider selects Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderOpenAI:
		return NewOpenAIEngine(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey), nil
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicEngine(cfg.AnthropicURL, cfg.AnthropicAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want ollama, openai or anthropic)", cfg.Provider)
	}
}

// DetectEmbedder is Detect restricted to providers that serve embeddings.
func DetectEmbedder(cfg DetectConfig) (Engine, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Provider), ProviderAnthropic) {
		return nil, fmt.Errorf("embedding provider %q: %w", cfg.Provider, ErrUnsupported)
	}
	return Detect(cfg)
}
