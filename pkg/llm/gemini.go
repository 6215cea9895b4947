package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Google GenAI backend.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
}

// GeminiClient completes prompts with GenerateContent.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiClient builds the client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model, temperature: float32(cfg.Temperature)}, nil
}

// Name reports the tier label.
func (c *GeminiClient) Name() string { return "gemini/" + c.model }

// Complete sends prompt as one user content part.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	var cfg *genai.GenerateContentConfig
	if c.temperature > 0 {
		t := c.temperature
		cfg = &genai.GenerateContentConfig{Temperature: &t}
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}, Role: "user"},
	}, cfg)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
