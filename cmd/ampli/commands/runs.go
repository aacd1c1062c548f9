package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/ampli/pkg/ledger"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := loadProject()
		if err != nil {
			return err
		}
		if err := p.connectLedger(ctx, true); err != nil {
			return err
		}
		defer p.close()

		runs, err := p.ledger.ListRuns(ctx)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		return formatRuns(cmd.OutOrStdout(), runs, p.ledger.Namespace())
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func formatRuns(w io.Writer, runs []*ledger.Run, namespace string) error {
	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs found in namespace '%s'\n", namespace)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Run", "Status", "Started", "Duration", "Revision", "Error")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAtMs > 0 {
			duration = (time.Duration(r.FinishedAtMs-r.StartedAtMs) * time.Millisecond).Round(time.Second).String()
		}
		revision := r.Revision
		if len(revision) > 12 {
			revision = revision[:12]
		}
		if err := table.Append([]string{
			shortRunID(r.ID),
			string(r.Status),
			time.UnixMilli(r.StartedAtMs).Format("2006-01-02 15:04:05"),
			duration,
			revision,
			truncate(r.Error, 60),
		}); err != nil {
			return fmt.Errorf("failed to format run %s: %w", r.ID, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
