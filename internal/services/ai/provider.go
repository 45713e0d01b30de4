package ai

import (
	"context"
	"fmt"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Provider is a single text-generation backend. Implementations make one
// attempt per call; retries belong to ContentGenerator.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, images []models.Image) (string, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, prompt string, images []models.Image) (string, error)

func (f ProviderFunc) Name() string {
	return "func"
}

func (f ProviderFunc) Generate(ctx context.Context, prompt string, images []models.Image) (string, error) {
	return f(ctx, prompt, images)
}

// NewProvider creates the provider selected by cfg.Provider
func NewProvider(ctx context.Context, cfg config.LLMConfig, logger *logrus.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
