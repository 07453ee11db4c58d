package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <message>",
	Short: "Send a test notification through the configured notifiers",
	Long: `Send a message through every configured notifier (terminal, Telegram,
speech). Useful for verifying credentials before starting the watcher.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return notifyRun(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}

func notifyRun(message string) error {
	if dryRun {
		ui.DryRunMsg("Would send notification: %s", message)
		return nil
	}

	chain := buildNotifiers(ui)
	if err := chain.Notify(context.Background(), "ocp test", message); err != nil {
		return err
	}
	ui.Success("Notification sent.")
	return nil
}
