// Package cmd defines the chronicle command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chronicle",
	Short: "Chronicle - Telegram conversation recorder",
	Long: `Chronicle records Telegram group conversations into titled sessions.

Run "chronicle serve" to start the bot and the JSON API. Maintenance
commands (reconcile, status, backup, reset) operate directly on the
database and do not require a bot token.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
