package commands

import (
	"github.com/dyluth/ampli/internal/stage"
	"github.com/spf13/cobra"
)

var importOpts execOptions

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the manifest's reads into paired-end-demux.qza",
	Long: `Import every sample in the manifest into one paired-end sequence
archive, then write the read-quality summary demux.qzv unless
import.summarize is "skip".

The archive must list exactly the manifest's samples; anything else fails
the stage.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		stages := []stage.Stage{p.plan.Import()}
		if p.cfg.Import.Summarize != "skip" {
			stages = append(stages, p.plan.Summarize())
		}
		ctx, cancel := signalContext()
		defer cancel()
		return p.execute(ctx, stages, importOpts)
	},
}

func init() {
	addExecFlags(importCmd, &importOpts)
	rootCmd.AddCommand(importCmd)
}

func addExecFlags(cmd *cobra.Command, opts *execOptions) {
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Run even when the ledger holds a matching result")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the commands without running them")
}
