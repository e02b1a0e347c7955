package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronicle-bot/chronicle/internal/app"
	"github.com/chronicle-bot/chronicle/internal/config"
	"github.com/chronicle-bot/chronicle/internal/store"
)

var backupOutput string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export all sessions and messages as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBackup(cmd.Context())
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "output file (default: stdout)")
	rootCmd.AddCommand(backupCmd)
}

// backupDocument is the JSON export envelope.
type backupDocument struct {
	ExportedAt time.Time       `json:"exported_at"`
	Sessions   []store.Session `json:"sessions"`
	Messages   []store.Message `json:"messages"`
}

func runBackup(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	sessions, err := a.Store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	messages, err := a.Store.AllMessages(ctx)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	doc := backupDocument{
		ExportedAt: time.Now().UTC(),
		Sessions:   sessions,
		Messages:   messages,
	}

	out := os.Stdout
	if backupOutput != "" {
		f, err := os.Create(backupOutput)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}

	if backupOutput != "" {
		fmt.Fprintf(os.Stderr, "Exported %d sessions and %d messages to %s\n",
			len(sessions), len(messages), backupOutput)
	}
	return nil
}
