package commands

import (
	"github.com/dyluth/ampli/internal/stage"
	"github.com/spf13/cobra"
)

var (
	phylogenyOpts    execOptions
	phylogenyThreads int
)

var phylogenyCmd = &cobra.Command{
	Use:   "phylogeny",
	Short: "Align representative sequences and build rooted and unrooted trees",
	Long: `Run MAFFT and FastTree on rep-seqs.qza. Both trees must have exactly one
leaf per representative sequence.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("threads") {
			p.cfg.Phylogeny.Threads = phylogenyThreads
		}
		ctx, cancel := signalContext()
		defer cancel()
		return p.execute(ctx, []stage.Stage{p.plan.Phylogeny()}, phylogenyOpts)
	},
}

func init() {
	phylogenyCmd.Flags().IntVar(&phylogenyThreads, "threads", 0, "MAFFT/FastTree threads, 0 for auto (overrides phylogeny.threads)")
	addExecFlags(phylogenyCmd, &phylogenyOpts)
	rootCmd.AddCommand(phylogenyCmd)
}
