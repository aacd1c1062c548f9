package commands

import (
	"github.com/dyluth/ampli/internal/stage"
	"github.com/spf13/cobra"
)

var summarizeOpts execOptions

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Write the read-quality summary demux.qzv",
	Long: `Summarize paired-end-demux.qza into demux.qzv. Open it in QIIME 2 View
to choose the truncation lengths for denoising.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		s := p.plan.Summarize()
		// Asked for explicitly, a failure is an error.
		s.Required = true
		ctx, cancel := signalContext()
		defer cancel()
		return p.execute(ctx, []stage.Stage{s}, summarizeOpts)
	},
}

func init() {
	addExecFlags(summarizeCmd, &summarizeOpts)
	rootCmd.AddCommand(summarizeCmd)
}
