package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dyluth/ampli/internal/artifacts"
	"github.com/spf13/cobra"
)

var (
	artifactsOutput  string
	artifactsSince   string
	artifactsUntil   string
	artifactsType    string
	artifactsStage   string
	artifactsRun     string
	artifactsLineage bool
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts [ARTIFACT_ID]",
	Short: "Inspect recorded artifacts and their provenance",
	Long: `Inspect the artifacts recorded in the provenance ledger.

List Mode (no ARTIFACT_ID):
  Displays artifacts matching the filters as a table or JSONL stream.

Get Mode (with ARTIFACT_ID):
  Displays one artifact as JSON. Accepts a unique id prefix of at least
  6 characters. With --lineage, lists every artifact it was derived from.

Filters (list mode only):
  --since/--until  duration ("2h") or RFC3339 time
  --type           semantic type glob ("FeatureData[*]") or exact type
  --stage          producing stage (import, denoise, ...)
  --run            run id

Examples:
  # Everything produced by the last day's runs
  ampli artifacts --since=24h

  # Trees only, as JSON for jq
  ampli artifacts --type='Phylogeny*' --output=jsonl | jq .path

  # Where did this taxonomy table come from?
  ampli artifacts 3f2a9c --lineage`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArtifacts,
}

func init() {
	artifactsCmd.Flags().StringVarP(&artifactsOutput, "output", "o", "default", "Output format: default or jsonl (list mode)")
	artifactsCmd.Flags().StringVar(&artifactsSince, "since", "", "Show artifacts created after this time (duration or RFC3339)")
	artifactsCmd.Flags().StringVar(&artifactsUntil, "until", "", "Show artifacts created before this time (duration or RFC3339)")
	artifactsCmd.Flags().StringVar(&artifactsType, "type", "", "Filter by semantic type (glob pattern)")
	artifactsCmd.Flags().StringVar(&artifactsStage, "stage", "", "Filter by producing stage")
	artifactsCmd.Flags().StringVar(&artifactsRun, "run", "", "Filter by run id")
	artifactsCmd.Flags().BoolVar(&artifactsLineage, "lineage", false, "With ARTIFACT_ID, list its source artifacts")
	rootCmd.AddCommand(artifactsCmd)
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var format artifacts.OutputFormat
	switch artifactsOutput {
	case "default":
		format = artifacts.OutputFormatDefault
	case "jsonl":
		format = artifacts.OutputFormatJSONL
	default:
		return fail(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", artifactsOutput),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	p, err := loadProject()
	if err != nil {
		return err
	}
	if err := p.connectLedger(ctx, true); err != nil {
		return err
	}
	defer p.close()

	if len(args) > 0 {
		return getArtifact(ctx, cmd.OutOrStdout(), p, args[0], format)
	}

	since, until, err := artifacts.ParseRange(artifactsSince, artifactsUntil)
	if err != nil {
		return fail(
			"invalid time filter",
			err.Error(),
			[]string{"Use duration format like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z'"},
		)
	}

	list, err := artifacts.List(ctx, p.ledger, &artifacts.Criteria{
		SinceTimestampMs: since,
		UntilTimestampMs: until,
		TypeGlob:         artifactsType,
		Stage:            artifactsStage,
		RunID:            artifactsRun,
	})
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts.Write(cmd.OutOrStdout(), list, format, p.ledger.Namespace())
}

func getArtifact(ctx context.Context, w io.Writer, p *project, id string, format artifacts.OutputFormat) error {
	a, err := artifacts.Get(ctx, p.ledger, id)
	if err != nil {
		var notFound *artifacts.NotFoundError
		if errors.As(err, &notFound) {
			return fail(
				fmt.Sprintf("artifact with ID '%s' not found", id),
				"The specified artifact is not in the ledger.",
				[]string{"List all artifacts:\n  ampli artifacts"},
			)
		}
		var ambiguous *artifacts.AmbiguousError
		if errors.As(err, &ambiguous) {
			return fail(
				fmt.Sprintf("ambiguous short ID '%s'", id),
				fmt.Sprintf("Matches %d artifacts:\n  %s", len(ambiguous.Matches), strings.Join(ambiguous.Candidates(), "\n  ")),
				[]string{"Use a longer prefix or the full ID"},
			)
		}
		return fmt.Errorf("failed to get artifact: %w", err)
	}

	if !artifactsLineage {
		return artifacts.FormatSingleJSON(w, a)
	}
	lineage, err := artifacts.Lineage(ctx, p.ledger, a)
	if err != nil {
		return err
	}
	return artifacts.Write(w, lineage, format, p.ledger.Namespace())
}
