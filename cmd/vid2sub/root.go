package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/vid2sub/internal/config"
	"github.com/snarg/vid2sub/internal/media"
	"github.com/snarg/vid2sub/internal/transcribe"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "vid2sub",
		Short:         "Turn a video's audio track into a subtitle file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flags.StringVar(&ctx.overrides.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&ctx.overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flags.StringVar(&ctx.overrides.TranscribeMode, "mode", "", "Transcription mode (chat or audio)")
	flags.StringVar(&ctx.overrides.WorkDir, "work-dir", "", "Directory for per-session scratch files")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newTranscribeCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// commandContext loads configuration once per process, after flags are parsed.
type commandContext struct {
	overrides config.Overrides

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(c.overrides)
	})
	return c.config, c.configErr
}

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

func newEngine(cfg *config.Config, log zerolog.Logger) *media.Engine {
	return media.NewEngine(media.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		WorkDir:     cfg.WorkDir,
		Quality:     cfg.AudioQuality,
	}, log)
}

func newTranscriber(cfg *config.Config) transcribe.Transcriber {
	if cfg.TranscribeMode == config.ModeAudio {
		return transcribe.NewAudioClient(transcribe.Options{
			BaseURL: cfg.TranscribeBaseURL,
			Model:   cfg.TranscribeAudioModel,
			Timeout: cfg.TranscribeTimeout,
		})
	}
	return transcribe.NewChatClient(transcribe.Options{
		BaseURL: cfg.TranscribeBaseURL,
		Model:   cfg.TranscribeChatModel,
		Timeout: cfg.TranscribeTimeout,
	})
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "vid2sub "+version)
		},
	}
}
