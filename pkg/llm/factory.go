package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/pkg/config"
)

// NewFromConfig builds the primary and optional fallback tiers.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger, observer Observer) (*TieredCompleter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	primary, err := newTier(ctx, cfg, cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("primary llm: %w", err)
	}
	tiers := []Completer{primary}
	if cfg.Fallback.Provider != "" {
		fallback, err := newTier(ctx, cfg, cfg.Fallback)
		if err != nil {
			logger.Warn("fallback llm disabled", zap.Error(err))
		} else {
			tiers = append(tiers, fallback)
		}
	}
	return NewTieredCompleter(TieredOptions{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.RetryBackoff,
		Logger:     logger,
		Observer:   observer,
	}, tiers...), nil
}

func newTier(ctx context.Context, cfg config.LLMConfig, tier config.LLMTierConfig) (Completer, error) {
	switch strings.ToLower(tier.Provider) {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIURL, Model: tier.Model, Temperature: cfg.Temperature})
	case "gemini", "genai", "google":
		return NewGeminiClient(ctx, GeminiConfig{APIKey: cfg.GeminiKey, Model: tier.Model, Temperature: cfg.Temperature})
	}
	return nil, fmt.Errorf("unknown llm provider %q", tier.Provider)
}
