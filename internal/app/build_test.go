package app

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/verbalease/internal/config"
)

func TestResolveProvider(t *testing.T) {
	ctx := context.Background()

	p, err := resolveProvider(ctx, config.Config{AssistantProvider: "auto"})
	if err != nil {
		t.Fatalf("resolveProvider(auto) error = %v", err)
	}
	if p.Name() != "mock" {
		t.Fatalf("auto without key = %q, want mock", p.Name())
	}

	if _, err := resolveProvider(ctx, config.Config{AssistantProvider: "gemini"}); err == nil {
		t.Fatalf("resolveProvider(gemini) without key succeeded")
	}
	if _, err := resolveProvider(ctx, config.Config{AssistantProvider: "openai"}); err == nil {
		t.Fatalf("resolveProvider(openai) succeeded")
	}
}

func TestBuildWiresInMemoryService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := Build(ctx, config.Config{
		AssistantProvider:        "mock",
		MetricsNamespace:         "test_app_build",
		SessionInactivityTimeout: time.Minute,
		Encoder:                  "wav",
	})
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	defer res.Cleanup()

	if res.Pipeline.ProviderName() != "mock" {
		t.Fatalf("provider = %q, want mock", res.Pipeline.ProviderName())
	}
	if res.API == nil || res.Sessions == nil {
		t.Fatalf("Build returned incomplete result: %+v", res)
	}
}

func TestConfigureLogging(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	if err := ConfigureLogging("info", "json", &buf); err != nil {
		t.Fatalf("ConfigureLogging error = %v", err)
	}
	log.Debug().Msg("hidden")
	log.Info().Str("k", "v").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("log output = %q", out)
	}

	if err := ConfigureLogging("loud", "json", &buf); err == nil {
		t.Fatalf("ConfigureLogging accepted invalid level")
	}
	if err := ConfigureLogging("info", "xml", &buf); err == nil {
		t.Fatalf("ConfigureLogging accepted invalid format")
	}
}
