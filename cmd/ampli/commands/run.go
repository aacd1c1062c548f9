package commands

import (
	"github.com/dyluth/ampli/internal/manifest"
	"github.com/dyluth/ampli/internal/printer"
	"github.com/spf13/cobra"
)

var (
	runOpts      execOptions
	runScan      string
	runGlob      string
	runRecursive bool
	runSkip      []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline: import, denoise, phylogeny, export, classify",
	Long: `Run every stage in order against the work directory. The first failing
stage halts the run; only the read-quality summary may fail without
stopping it (import.summarize: optional).

All stages are checked before any tool starts, so a bad manifest or
truncation length fails in seconds, not after an hour of denoising.

With a ledger configured, a stage whose command and inputs are unchanged
since a previous run is reused instead of re-run (see --no-cache).

Examples:
  # Build the manifest from ./reads, then run everything
  ampli run --scan reads

  # Re-run from scratch, ignoring recorded results
  ampli run --no-cache

  # Show the commands without running them
  ampli run --dry-run

  # Skip the classifier
  ampli run --skip classify`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runScan, "scan", "", "Build the manifest from this FASTQ directory first")
	runCmd.Flags().StringVar(&runGlob, "glob", "", "With --scan, only consider file names matching this glob")
	runCmd.Flags().BoolVar(&runRecursive, "recursive", false, "With --scan, descend into sub-directories")
	runCmd.Flags().StringSliceVar(&runSkip, "skip", nil, "Stages to leave out (import, summarize, denoise, phylogeny, export, classify)")
	addDenoiseFlags(runCmd)
	addExecFlags(runCmd, &runOpts)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	applyDenoiseFlags(cmd, p)

	if runScan != "" {
		m, err := buildManifest(p, runScan, p.plan.Manifest, manifest.ScanOptions{Glob: runGlob, Recursive: runRecursive})
		if err != nil {
			return err
		}
		printer.Success("manifest: %d samples written to %s\n", len(m.Rows), p.plan.Manifest)
	}

	stages, err := p.plan.Stages(runSkip...)
	if err != nil {
		return fail("invalid --skip", err.Error(), []string{"Stage names: import, summarize, denoise, phylogeny, export, classify"})
	}

	ctx, cancel := signalContext()
	defer cancel()
	resolveReadLengths(ctx, p)
	return p.execute(ctx, stages, runOpts)
}
