package llm

import (
	"fmt"

	"github.com/parleyhq/parley/internal/config"
)

// NewProvider creates the LLM provider selected by the config.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)

	case "ollama":
		p := NewOpenAICompatProvider(cfg.Ollama.BaseURL, cfg.Ollama.APIKey, cfg.Ollama.Model, "Ollama")
		p.SetReasoningMarkers(cfg.Ollama.ReasoningOpen, cfg.Ollama.ReasoningClose)
		return p, nil

	case "lmstudio":
		p := NewOpenAICompatProvider(cfg.LMStudio.BaseURL, cfg.LMStudio.APIKey, cfg.LMStudio.Model, "LM Studio")
		p.SetReasoningMarkers(cfg.LMStudio.ReasoningOpen, cfg.LMStudio.ReasoningClose)
		return p, nil

	case "openai-compat":
		if cfg.OpenAICompat.BaseURL == "" {
			return nil, fmt.Errorf("openai-compat provider requires base_url in config")
		}
		p := NewOpenAICompatProvider(cfg.OpenAICompat.BaseURL, cfg.OpenAICompat.APIKey, cfg.OpenAICompat.Model, "OpenAI-compatible")
		p.SetReasoningMarkers(cfg.OpenAICompat.ReasoningOpen, cfg.OpenAICompat.ReasoningClose)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown provider: %q (valid: anthropic, ollama, lmstudio, openai-compat)", cfg.Provider)
	}
}
