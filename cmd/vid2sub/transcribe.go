package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snarg/vid2sub/internal/subtitle"
	"github.com/snarg/vid2sub/internal/workflow"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var format string
	var out string

	cmd := &cobra.Command{
		Use:   "transcribe <video>",
		Short: "Transcribe a local video and write a subtitle file",
		Long: "Extracts the audio track of <video>, sends it for transcription and writes\n" +
			"the subtitle file next to the input, or to --out (\"-\" for stdout).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := subtitle.ParseKind(format)
			if err != nil {
				return err
			}

			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := newLogger(cfg.LogLevel, cmd.ErrOrStderr())

			engine := newEngine(cfg, log)
			defer engine.Close()
			inst, err := engine.Acquire()
			if err != nil {
				return err
			}
			defer inst.Release()

			ctrl := workflow.New(workflow.Options{
				Transcoder:      inst,
				Transcriber:     newTranscriber(cfg),
				MaxPayloadChars: cfg.MaxPayloadChars,
				Notifier:        &progressPrinter{w: cmd.ErrOrStderr()},
				Log:             log.With().Str("component", "workflow").Logger(),
			})
			defer ctrl.Close()

			file := workflow.File{Name: info.Name(), Path: absPath, Size: info.Size()}
			if err := ctrl.Select(file); err != nil {
				return err
			}
			if err := ctrl.Confirm(cmd.Context()); err != nil {
				return fmt.Errorf("transcribe %s: %w", info.Name(), err)
			}

			doc, err := ctrl.Download(kind)
			if err != nil {
				return err
			}

			if out == "-" {
				_, err := io.WriteString(cmd.OutOrStdout(), doc.Body+"\n")
				return err
			}
			if out == "" {
				out = strings.TrimSuffix(absPath, filepath.Ext(absPath)) + "." + string(doc.Kind)
			}
			if err := os.WriteFile(out, []byte(doc.Body), 0o644); err != nil {
				return fmt.Errorf("write subtitle: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "vtt", "Subtitle format (vtt or srt)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default: input name with subtitle extension)")
	return cmd
}

// progressPrinter reports workflow progress on the terminal.
type progressPrinter struct {
	w    io.Writer
	last int
}

func (p *progressPrinter) OnState(s workflow.Snapshot) {
	if s.State == workflow.Processing {
		fmt.Fprintf(p.w, "Processing %s\n", s.FileName)
	}
}

func (p *progressPrinter) OnProgress(percent int) {
	// One line per 25%.
	if percent/25 > p.last/25 || percent == 100 {
		fmt.Fprintf(p.w, "  audio extraction %d%%\n", percent)
	}
	p.last = percent
}

func (p *progressPrinter) OnAlert(a workflow.Alert) {
	fmt.Fprintf(p.w, "Error (%s): %s\n", a.Kind, a.Message)
}
