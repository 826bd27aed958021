package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/vid2sub"
	"github.com/snarg/vid2sub/internal/api"
	"github.com/snarg/vid2sub/internal/events"
	"github.com/snarg/vid2sub/internal/metrics"
	"github.com/snarg/vid2sub/internal/session"
	"github.com/snarg/vid2sub/internal/transcribe"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime := time.Now()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log := newLogger(cfg.LogLevel, os.Stdout)
			log.Info().Str("version", version).Str("mode", cfg.TranscribeMode).Msg("vid2sub starting")
			if os.Getenv(transcribe.APIKeyEnv) == "" {
				log.Warn().Str("env", transcribe.APIKeyEnv).Msg("API key not set, transcription requests will be rejected")
			}

			engine := newEngine(cfg, log)
			defer engine.Close()

			mgr := session.NewManager(session.Options{
				Engine:          engine,
				Transcriber:     newTranscriber(cfg),
				Bus:             events.NewBus(cfg.EventBuffer),
				MaxPayloadChars: cfg.MaxPayloadChars,
				TTL:             cfg.SessionTTL,
				Log:             log,
			})
			prometheus.MustRegister(metrics.NewCollector(mgr))

			webFS, err := fs.Sub(vid2sub.WebFiles, "web")
			if err != nil {
				return fmt.Errorf("web assets: %w", err)
			}

			httpLog := log.With().Str("component", "http").Logger()
			srv := api.NewServer(cfg, mgr, webFS, version, startTime, httpLog)

			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(srv.Start)
			g.Go(func() error { return mgr.Run(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("shutdown signal received")

				// Graceful shutdown with 10s timeout
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("http server shutdown error")
				}
				return nil
			})

			err = g.Wait()
			log.Info().Msg("vid2sub stopped")
			return err
		},
	}
}
