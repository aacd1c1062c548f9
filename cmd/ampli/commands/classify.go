package commands

import (
	"github.com/dyluth/ampli/internal/stage"
	"github.com/spf13/cobra"
)

var (
	classifyOpts       execOptions
	classifyConfidence float64
	classifyJar        string
	classifyTraining   string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Assign taxonomy to the exported sequences with the RDP classifier",
	Long: `Classify exported/dna-sequences.fasta with the RDP classifier and write
exported/taxonomy.tsv.

A rank whose confidence is below the threshold is left empty, as is every
rank below it. Every sequence appears exactly once in the table.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("confidence") {
			p.cfg.Classify.Confidence = classifyConfidence
		}
		if flags.Changed("jar") {
			p.cfg.Classify.Jar = classifyJar
		}
		if flags.Changed("training") {
			p.cfg.Classify.Training = classifyTraining
		}
		ctx, cancel := signalContext()
		defer cancel()
		return p.execute(ctx, []stage.Stage{p.plan.Classify()}, classifyOpts)
	},
}

func init() {
	classifyCmd.Flags().Float64Var(&classifyConfidence, "confidence", 0, "Confidence threshold in (0, 1] (overrides classify.confidence)")
	classifyCmd.Flags().StringVar(&classifyJar, "jar", "", "RDP classifier jar (overrides classify.jar)")
	classifyCmd.Flags().StringVar(&classifyTraining, "training", "", "rRNAClassifier.properties of a custom training set (overrides classify.training)")
	addExecFlags(classifyCmd, &classifyOpts)
	rootCmd.AddCommand(classifyCmd)
}
