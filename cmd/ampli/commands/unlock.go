package commands

import (
	"github.com/dyluth/ampli/internal/printer"
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove a stale work directory lock",
	Long: `Remove the lock a killed run left in the work directory.

Only use this when no ampli process is running against the work directory:
two runs writing the same outputs corrupt each other.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		if err := p.ws.ForceUnlock(); err != nil {
			return fail("unlock failed", err.Error(), nil)
		}
		printer.Success("Unlocked %s\n", p.ws.Root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
