// Package resolve creates chat providers from provider-agnostic
// configuration (name, key, model, base URL).
package resolve

import (
	"fmt"

	jimi "github.com/jimihq/jimi"
	"github.com/jimihq/jimi/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a ChatProvider.
type Config struct {
	Provider string // "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // auto-filled for known providers

	// Common cross-provider options (nil = provider default).
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Streaming   *bool
}

// Provider creates a jimi.ChatProvider from cfg.
func Provider(cfg Config) (jimi.ChatProvider, error) {
	switch cfg.Provider {
	case "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

func openaiCompatProvider(cfg Config) jimi.ChatProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}

	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}
	if cfg.Streaming != nil {
		provOpts = append(provOpts, openaicompat.WithStreaming(*cfg.Streaming))
	}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens > 0 {
		reqOpts = append(reqOpts, openaicompat.WithMaxTokens(cfg.MaxTokens))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithRequestOptions(reqOpts...))
	}

	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

// defaultBaseURL maps known provider names to their API bases.
func defaultBaseURL(name string) string {
	switch name {
	case "openai":
		return "https://api.openai.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
