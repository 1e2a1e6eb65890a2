// consult is a terminal front-end for the consult conversation engine:
// it mounts a conversation view, streams assistant answers as they are
// composed, and drives voice capture from the keyboard.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/thaya-health/consult/config"
	"github.com/thaya-health/consult/engine"
	"github.com/thaya-health/consult/notify"
)

var (
	flagDebug   bool
	flagLogFile string
)

var rootCmd = &cobra.Command{
	Use:   "consult",
	Short: "consult — streaming assistant conversation client",
	Long:  "Terminal client for the assistant conversation stream: live answer snapshots, voice dictation, and offline-tolerant reconnection.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "write logs to this file (default: discard)")
}

func run(ctx context.Context) error {
	if err := setupLogging(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	notices := make(chan notice, 16)
	view := engine.New(engine.Config{
		ServerURL:         cfg.ServerURL,
		APIURL:            cfg.APIURL,
		AssistantID:       cfg.AssistantID,
		UserID:            cfg.UserID,
		UserEmail:         cfg.UserEmail,
		ChunkInterval:     cfg.ChunkInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectDelayMax: cfg.ReconnectDelayMax,
		Notifier: notify.Func(func(kind notify.Kind, message string) {
			select {
			case notices <- notice{kind: kind, message: message}:
			default:
			}
		}),
	})

	p := tea.NewProgram(newModel(ctx, view, notices), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}

// setupLogging routes slog away from the terminal: the TUI owns stdout,
// so logs go to a file or nowhere.
func setupLogging() error {
	var w io.Writer = io.Discard
	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}

	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{
		Level:   level,
		NoColor: true,
	})))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
