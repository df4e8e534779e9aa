package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ent0n29/verbalease/internal/assistant"
	"github.com/ent0n29/verbalease/internal/config"
)

// resolveProvider picks the assistant backend. auto prefers Gemini when a key is set.
func resolveProvider(ctx context.Context, cfg config.Config) (assistant.Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.AssistantProvider))
	if mode == "" {
		mode = "auto"
	}

	gemini := func() (assistant.Provider, error) {
		p, err := assistant.NewGeminiProvider(ctx, assistant.GeminiConfig{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			TTSModel:   cfg.GeminiTTSModel,
			Voice:      cfg.GeminiTTSVoice,
			MaxRetries: cfg.RetryMax,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini provider init failed: %w", err)
		}
		log.Info().Str("model", cfg.GeminiModel).Str("tts_model", cfg.GeminiTTSModel).Msg("assistant provider: gemini")
		return p, nil
	}

	switch mode {
	case "gemini":
		return gemini()
	case "mock":
		log.Info().Msg("assistant provider: mock")
		return assistant.NewMockProvider(), nil
	case "auto":
		if cfg.GeminiAPIKey != "" {
			return gemini()
		}
		log.Warn().Msg("assistant provider: mock (GEMINI_API_KEY not set)")
		return assistant.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("invalid ASSISTANT_PROVIDER: %q (expected auto|gemini|mock)", cfg.AssistantProvider)
	}
}
