package commands

import (
	"github.com/dyluth/ampli/internal/stage"
	"github.com/spf13/cobra"
)

var exportOpts execOptions

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export archives to TSV, FASTA and Newick files in exported/",
	Long: `Export the denoising and phylogeny archives into <work_dir>/exported/:

  feature-table.tsv     counts per variant (rows) and sample (columns)
  dna-sequences.fasta   representative sequences
  unrooted_tree.nwk     unrooted tree
  rooted_tree.nwk       rooted tree
  denoising-stats.tsv   reads kept at each DADA2 step

Re-running on the same archives produces byte-identical files.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return p.execute(ctx, []stage.Stage{p.plan.Export()}, exportOpts)
	},
}

func init() {
	addExecFlags(exportCmd, &exportOpts)
	rootCmd.AddCommand(exportCmd)
}
