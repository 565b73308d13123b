package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/minibook/internal/config"
)

// New selects the backend named by cfg.Mode.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "gemini":
		return NewGeminiGenerator(cfg.Endpoint, cfg.APIKey, cfg.Model, httpClient(cfg)), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, httpClient(cfg)), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openai":
		return NewOpenAIGenerator(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

func httpClient(cfg config.LLMConfig) *http.Client {
	return &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
}
