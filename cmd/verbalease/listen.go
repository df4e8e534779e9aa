package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ent0n29/verbalease/internal/app"
	"github.com/ent0n29/verbalease/internal/capture"
	"github.com/ent0n29/verbalease/internal/config"
	"github.com/ent0n29/verbalease/internal/device/portaudio"
	"github.com/ent0n29/verbalease/internal/observability"
)

type listenOptions struct {
	captureOut string
	replyOut   string
	noAutoStop bool
}

func newListenCmd(cfg *config.Config) *cobra.Command {
	var opts listenOptions
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Record one utterance from the local microphone and answer it",
		Long: "Records from the default input until silence (or Ctrl-C), then transcribes, " +
			"answers and synthesizes the reply with the configured assistant provider.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listen(cmd.Context(), *cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.captureOut, "capture-out", "", "write the captured utterance to this file")
	cmd.Flags().StringVar(&opts.replyOut, "reply-out", "", "write the synthesized reply audio to this file")
	cmd.Flags().BoolVar(&opts.noAutoStop, "no-auto-stop", false, "record until Ctrl-C instead of stopping on silence")
	return cmd
}

func listen(ctx context.Context, cfg config.Config, opts listenOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	encoder, err := capture.EncoderByName(cfg.Encoder)
	if err != nil {
		return err
	}
	pipeline, store, err := app.BuildPipeline(ctx, cfg, observability.NewMetrics(cfg.MetricsNamespace))
	if err != nil {
		return err
	}
	defer store.Close()

	sess := capture.NewSession(capture.Config{
		Device:  portaudio.Microphone{SampleRate: cfg.SampleRate},
		Encoder: encoder,
		Defaults: capture.Options{
			SilenceThreshold: cfg.SilenceThreshold,
			SilenceDuration:  cfg.SilenceDuration,
			PollInterval:     cfg.PollInterval,
			FFTSize:          cfg.FFTSize,
			MaxDuration:      cfg.MaxDuration,
		},
		OnStateChange: func(st capture.State) {
			log.Debug().Str("state", st.String()).Msg("capture state")
		},
	})
	defer sess.Close()

	startCtx, cancel := context.WithTimeout(ctx, cfg.PermissionTimeout)
	results, err := sess.Start(startCtx, capture.Options{DisableAutoStop: opts.noAutoStop})
	cancel()
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	fmt.Fprintln(os.Stderr, "listening... (Ctrl-C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var res capture.Result
	select {
	case res = <-results:
	case <-sigCh:
		sess.Stop()
		res = <-results
	}
	if res.Err != nil {
		if errors.Is(res.Err, capture.ErrEmptyCapture) {
			return fmt.Errorf("nothing was recorded")
		}
		return fmt.Errorf("capture failed (%s): %w", res.Reason, res.Err)
	}
	log.Info().
		Str("reason", string(res.Reason)).
		Dur("duration", res.Duration).
		Int("bytes", len(res.Artifact.Data)).
		Msg("utterance captured")

	if opts.captureOut != "" {
		if err := os.WriteFile(opts.captureOut, res.Artifact.Data, 0o644); err != nil {
			return fmt.Errorf("write capture: %w", err)
		}
	}

	turn, err := pipeline.HandleTurn(ctx, "local-"+uuid.NewString(), res.Artifact, nil)
	if err != nil {
		return fmt.Errorf("assistant turn failed: %w", err)
	}
	fmt.Printf("you:        %s\n", turn.UserText)
	fmt.Printf("verbalease: %s\n", turn.ReplyText)

	if opts.replyOut != "" && turn.AudioDataURI != "" {
		_, data, err := capture.ParseDataURI(turn.AudioDataURI)
		if err != nil {
			return fmt.Errorf("decode reply audio: %w", err)
		}
		if err := os.WriteFile(opts.replyOut, data, 0o644); err != nil {
			return fmt.Errorf("write reply audio: %w", err)
		}
	}
	return nil
}
