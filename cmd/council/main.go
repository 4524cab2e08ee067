package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"council/internal/api"
	"council/internal/config"
	"council/internal/council"
	"council/internal/eventlog"
	"council/internal/tui"
)

const version = "v0.1.0"

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "council: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "council",
		Short: "council is a terminal client for an LLM council server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}

			logger, closeLog, err := buildLogger(settings)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer closeLog()

			client, err := buildClient(settings, logger)
			if err != nil {
				return fmt.Errorf("build client: %w", err)
			}

			recorder, err := eventlog.NewStore(settings.EventLogDir)
			if err != nil {
				return fmt.Errorf("build event log: %w", err)
			}

			manager := api.NewSessionManager(client, logger)
			app := tui.NewApp(tui.AppConfig{
				Version:    version,
				ServerURL:  settings.ServerBaseURL,
				ThemeName:  settings.Theme,
				Backend:    client,
				Streamer:   tui.NewAPIStreamer(manager),
				Cache:      council.NewCache(logger),
				Recorder:   recorder,
				TrashGrace: settings.TrashGrace,
				TrashTick:  settings.TrashTick,
				Logger:     logger,
			})

			program := tea.NewProgram(app, tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("run tui: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.AddCommand(newReplayCmd(&configPath))
	cmd.AddCommand(newLogsCmd(&configPath))
	return cmd
}

// newReplayCmd rebuilds a conversation snapshot offline by folding a
// recorded event log, and prints the result as JSON.
func newReplayCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <conversation-id>",
		Short: "Rebuild a conversation snapshot from its recorded event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(*configPath)
			if err != nil {
				return err
			}

			store, err := eventlog.NewStore(settings.EventLogDir)
			if err != nil {
				return fmt.Errorf("build event log: %w", err)
			}

			id := strings.TrimSpace(args[0])
			events, err := store.Load(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load event log: %w", err)
			}

			conv := eventlog.Replay(replayBase(id), events)
			return printJSON(cmd.OutOrStdout(), conv)
		},
	}
}

func newLogsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "List recorded conversation event logs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(*configPath)
			if err != nil {
				return err
			}

			store, err := eventlog.NewStore(settings.EventLogDir)
			if err != nil {
				return fmt.Errorf("build event log: %w", err)
			}

			infos, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list event logs: %w", err)
			}
			return printLogs(cmd.OutOrStdout(), infos)
		},
	}
}

func loadSettings(configPath string) (config.Settings, error) {
	cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(configPath)})
	if err != nil {
		return config.Settings{}, fmt.Errorf("load config: %w", err)
	}
	settings, err := cfg.Settings()
	if err != nil {
		return config.Settings{}, fmt.Errorf("resolve settings: %w", err)
	}
	return settings, nil
}

// buildLogger writes diagnostics to the configured file. The TUI owns
// stdout, so logs never go to the terminal.
func buildLogger(settings config.Settings) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(settings.LogLevel))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("parse log level %q: %w", settings.LogLevel, err)
	}

	if settings.LogFile == "" {
		return zerolog.Nop(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(settings.LogFile), 0o755); err != nil {
		return zerolog.Nop(), nil, err
	}
	file, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	logger := zerolog.New(file).Level(level).With().Timestamp().Logger()
	return logger, func() { _ = file.Close() }, nil
}

func buildClient(settings config.Settings, logger zerolog.Logger) (*api.Client, error) {
	return api.NewClient(api.Options{
		BaseURL:    settings.ServerBaseURL,
		Timeout:    settings.ServerTimeout,
		Credential: api.NewCredential(settings.AccessKey),
		Logger:     logger,
	})
}

// replayBase seeds the fold with the optimistic turn the TUI would have
// appended before the stream opened, so stage and speaker events have an
// assistant tail to land on.
func replayBase(id string) *council.Conversation {
	return &council.Conversation{
		ID: id,
		Messages: []*council.Message{
			{Role: council.RoleAssistant},
		},
	}
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printLogs(w io.Writer, infos []eventlog.LogInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CONVERSATION\tUPDATED\tSIZE")
	for _, info := range infos {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n",
			info.ConversationID,
			info.UpdatedAt.Format(time.RFC3339),
			info.SizeBytes,
		)
	}
	return tw.Flush()
}
