package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/chronicle-bot/chronicle/internal/app"
	"github.com/chronicle-bot/chronicle/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and message counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStatus(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	counts, err := a.Store.SessionStatusCounts(ctx)
	if err != nil {
		return fmt.Errorf("counting sessions: %w", err)
	}
	messages, err := a.Store.CountAllMessages(ctx)
	if err != nil {
		return fmt.Errorf("counting messages: %w", err)
	}

	total := 0
	statuses := make([]string, 0, len(counts))
	for status, n := range counts {
		total += n
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	fmt.Printf("Messages: %d\n", messages)
	fmt.Printf("Sessions: %d\n", total)
	for _, status := range statuses {
		fmt.Printf("  %-10s %d\n", status, counts[status])
	}
	return nil
}
