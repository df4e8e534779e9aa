// Command verbalease runs the VerbalEase voice assistant service and its local tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ent0n29/verbalease/internal/app"
	"github.com/ent0n29/verbalease/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "verbalease: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel  string
		logFormat string
		cfg       config.Config
	)

	root := &cobra.Command{
		Use:           "verbalease",
		Short:         "VerbalEase voice assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				loaded.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				loaded.LogFormat = logFormat
			}
			if err := app.ConfigureLogging(loaded.LogLevel, loaded.LogFormat, os.Stderr); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json|console)")

	root.AddCommand(
		newServeCmd(&cfg),
		newListenCmd(&cfg),
		newReplayCmd(),
	)
	return root
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	var bindAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("bind") {
				cfg.BindAddr = bindAddr
			}
			return serve(*cfg)
		},
	}
	cmd.Flags().StringVar(&bindAddr, "bind", ":8080", "listen address (overrides APP_BIND_ADDR)")
	return cmd
}

func serve(cfg config.Config) error {
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	built, err := app.Build(runCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.BindAddr).Str("provider", built.Pipeline.ProviderName()).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen error: %w", err)
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}
	log.Info().Msg("shutdown complete")
	return nil
}
