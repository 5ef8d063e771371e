package provider

import (
	"log/slog"

	"clanker/internal/domain"
)

// Settings carries the provider selection from config.
type Settings struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// Supported lists the real provider names. Anything else falls back to the
// placeholder agent.
func Supported() []string {
	return []string{"anthropic", "openai", "grok", "groq", "zai"}
}

// IsSupported reports whether name is a real provider.
func IsSupported(name string) bool {
	for _, p := range Supported() {
		if p == name {
			return true
		}
	}
	return false
}

// New builds the agent client named by s.Provider. Unknown names get the
// placeholder so the gateway always has a working agent.
func New(s Settings, logger *slog.Logger) domain.Agent {
	logger.Info("creating agent client", "provider", s.Provider, "model", s.Model)

	switch s.Provider {
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:    s.APIKey,
			Model:     s.Model,
			BaseURL:   s.BaseURL,
			MaxTokens: s.MaxTokens,
			Logger:    logger,
		})
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:    s.APIKey,
			Model:     s.Model,
			BaseURL:   s.BaseURL,
			MaxTokens: s.MaxTokens,
			Logger:    logger,
		})
	case "groq":
		return NewGroq(OpenAIConfig{
			APIKey:    s.APIKey,
			Model:     s.Model,
			BaseURL:   s.BaseURL,
			MaxTokens: s.MaxTokens,
			Logger:    logger,
		})
	case "grok":
		return NewGrok(OpenAIConfig{
			APIKey:    s.APIKey,
			Model:     s.Model,
			BaseURL:   s.BaseURL,
			MaxTokens: s.MaxTokens,
			Logger:    logger,
		})
	case "zai":
		return NewZai(OpenAIConfig{
			APIKey:    s.APIKey,
			Model:     s.Model,
			BaseURL:   s.BaseURL,
			MaxTokens: s.MaxTokens,
			Logger:    logger,
		})
	default:
		logger.Warn("unknown provider, using placeholder", "provider", s.Provider)
		return NewPlaceholder(s.Model, logger)
	}
}
