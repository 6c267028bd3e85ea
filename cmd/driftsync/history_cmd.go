package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync sessions",
		RunE:  runHistory,
	}
	cmd.Flags().Int("limit", 20, "number of sessions to show")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	ledger := history.NewLedger(config.DefaultLedgerPath)
	if err := ledger.Open(); err != nil {
		return fmt.Errorf("open session history: %w", err)
	}
	defer ledger.Close()

	records, err := ledger.Recent(limit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "no sync sessions recorded yet")
		return nil
	}

	header := bold.Render(fmt.Sprintf("%-20s %-8s %-7s %-7s %-7s %-7s %-7s", "started", "outcome", "pushed", "pulled", "del-l", "del-r", "conflicts"))
	fmt.Fprintln(out, header)
	for _, r := range records {
		started := r.StartedAt
		if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			started = t.Local().Format("2006-01-02 15:04:05")
		}
		line := fmt.Sprintf("%-20s %-8s %-7d %-7d %-7d %-7d %-7d",
			started, r.Outcome,
			r.Pushed, r.Pulled, r.DeletedLocal, r.DeletedRemote, r.Conflicts)
		if r.Outcome == string(history.OutcomeAborted) {
			line = red(line)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

var bold = lipgloss.NewStyle().Bold(true)
