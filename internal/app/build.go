// Package app wires configuration, storage, the assistant provider and the HTTP layer.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/verbalease/internal/assistant"
	"github.com/ent0n29/verbalease/internal/config"
	"github.com/ent0n29/verbalease/internal/httpapi"
	"github.com/ent0n29/verbalease/internal/memory"
	"github.com/ent0n29/verbalease/internal/observability"
	"github.com/ent0n29/verbalease/internal/session"
)

const janitorInterval = 5 * time.Second

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Pipeline *assistant.Pipeline
	Metrics  *observability.Metrics

	// Cleanup releases the history store.
	Cleanup func() error
}

// Build assembles the service. The session janitor runs until ctx is cancelled.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	pipeline, store, err := BuildPipeline(ctx, cfg, metrics)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	api := httpapi.New(cfg, sessions, pipeline, metrics)
	sessions.SetExpireHook(func(s *session.Session) {
		api.CloseSession(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})
	sessions.StartJanitor(ctx, janitorInterval)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Pipeline: pipeline,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

// BuildPipeline opens the history store and the assistant provider. The caller owns the
// returned store.
func BuildPipeline(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*assistant.Pipeline, memory.Store, error) {
	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("memory store init failed: %w", err)
	}
	provider, err := resolveProvider(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	pipeline := assistant.NewPipeline(assistant.PipelineConfig{
		Provider:     provider,
		Store:        store,
		HistoryLimit: cfg.HistoryLimit,
		Metrics:      metrics,
	})
	return pipeline, store, nil
}
