package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronicle-bot/chronicle/internal/app"
	"github.com/chronicle-bot/chronicle/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all recorded sessions and messages",
	Long: `Reset permanently deletes every session and message. There is no
undo; run "chronicle backup" first. Requires --force.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runReset(cmd.Context())
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "confirm deletion of all data")
	rootCmd.AddCommand(resetCmd)
}

func runReset(ctx context.Context) error {
	if !resetForce {
		return errors.New("refusing to delete all data without --force")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	sessions, messages, err := a.Store.DeleteAllData(ctx)
	if err != nil {
		return fmt.Errorf("deleting data: %w", err)
	}

	fmt.Printf("Deleted %d sessions and %d messages.\n", sessions, messages)
	return nil
}
