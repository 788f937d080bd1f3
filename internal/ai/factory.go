package ai

import (
	"fmt"

	"github.com/DoyleJ11/impostor/internal/ai/ollama"
	"github.com/DoyleJ11/impostor/internal/ai/openai"
)

// New picks a client by provider name.
func New(cfg Config) (Completer, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL), nil
	case ProviderOllama:
		return ollama.New(cfg.OllamaHost), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
