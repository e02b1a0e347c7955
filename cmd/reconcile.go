package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronicle-bot/chronicle/internal/app"
	"github.com/chronicle-bot/chronicle/internal/config"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single staleness sweep and exit",
	Long: `Reconcile checks every active session against the message log and
marks abandoned ones completed. The serve command runs this sweep
periodically; this command runs it once, for cron jobs or manual repair.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runReconcile(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	res, err := a.Reconciler.ReconcileOnce(ctx)
	if err != nil {
		return fmt.Errorf("running sweep: %w", err)
	}

	fmt.Printf("Checked %d active sessions, completed %d.\n", res.Checked, res.Updated)
	return nil
}
