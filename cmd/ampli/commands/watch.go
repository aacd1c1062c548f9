package commands

import (
	"fmt"

	"github.com/dyluth/ampli/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchOutput string
	watchRun    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream stage events as runs progress",
	Long: `Stream stage events published by runs using this ledger: starts,
completions, reused results, warnings and failures.

With --run, only that run's events are shown and watch exits once the run
finishes.

Output Formats:
  default - Human-readable lines with timestamps and symbols
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch every run
  ampli watch

  # Follow one run until it finishes
  ampli watch --run 4f9c2b1e-8d3a-4c5b-9e7f-0a1b2c3d4e5f

  # Export events as JSON
  ampli watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchRun, "run", "", "Only show this run, and exit when it finishes")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseFormat(watchOutput)
	if err != nil {
		return fail(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := loadProject()
	if err != nil {
		return err
	}
	if err := p.connectLedger(ctx, true); err != nil {
		return err
	}
	defer p.close()

	sub, err := p.ledger.SubscribeStageEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to stage events: %w", err)
	}
	defer sub.Close()

	return watch.Stream(ctx, p.ledger, sub, cmd.OutOrStdout(), watch.Options{Format: format, RunID: watchRun})
}
