package ai

import (
	"context"
	"fmt"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/models"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider generates text with the Gemini API, including image inputs
type GeminiProvider struct {
	client *genai.Client
	model  string
	cfg    config.LLMConfig
	logger *logrus.Logger
}

// NewGeminiProvider creates a Gemini client from cfg.APIKey
func NewGeminiProvider(ctx context.Context, cfg config.LLMConfig, logger *logrus.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" || model == "gpt-4o-mini" {
		model = defaultGeminiModel
	}

	logger.WithField("model", model).Info("Gemini provider initialized")

	return &GeminiProvider{
		client: client,
		model:  model,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (g *GeminiProvider) Name() string {
	return "gemini"
}

// Generate performs a single GenerateContent call
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, images []models.Image) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, img := range images {
		if img.Description != "" {
			parts = append(parts, &genai.Part{Text: "Image: " + img.Description})
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	var generateConfig *genai.GenerateContentConfig
	if g.cfg.MaxTokens > 0 || g.cfg.Temperature > 0 {
		generateConfig = &genai.GenerateContentConfig{}
		if g.cfg.MaxTokens > 0 {
			generateConfig.MaxOutputTokens = int32(g.cfg.MaxTokens)
		}
		if g.cfg.Temperature > 0 {
			temperature := float32(g.cfg.Temperature)
			generateConfig.Temperature = &temperature
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, generateConfig)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	return result.Candidates[0].Content.Parts[0].Text, nil
}
