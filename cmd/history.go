package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dzianisv/opencode-plugins-sub001/internal/output"
)

var (
	historySession string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded reflection cycles",
	Long: `Show the reflection cycles the watcher has recorded: which sessions
were judged, what the verdict was, and what the coordinator did about it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySession, "session", "", "Filter by session id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Max cycles to show")
	rootCmd.AddCommand(historyCmd)
}

func historyRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	cycles, err := s.ListCycles(ctx, historySession, historyLimit)
	if err != nil {
		return err
	}

	if len(cycles) == 0 {
		ui.Info("No reflection cycles recorded yet. Run 'ocp watch' first.")
		return nil
	}

	table := ui.Table([]string{"ID", "Session", "Outcome", "Severity", "Duration", "When"})
	for _, c := range cycles {
		table.Append([]string{
			shortID(c.ID),
			shortID(c.SessionID),
			output.OutcomeColor(string(c.Outcome)),
			output.SeverityColor(string(c.Severity)),
			formatDuration(c.FinishedAt.Sub(c.StartedAt)),
			timeAgo(c.FinishedAt),
		})
	}
	table.Render()
	return nil
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
