package commands

import (
	"path/filepath"

	"github.com/dyluth/ampli/internal/printer"
	"github.com/dyluth/ampli/internal/scaffold"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Create an ampli.yml with default settings",
	Long: `Create an ampli.yml in DIR (default: the current directory).

The generated file documents every setting. Before the first run, set the
DADA2 truncation lengths for your data (inspect demux.qzv from
'ampli import') and the path of the RDP classifier jar.

Use --force to overwrite an existing ampli.yml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing ampli.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	created, err := scaffold.Initialize(dir, forceInit)
	if err != nil {
		return fail("initialization failed", err.Error(), nil)
	}

	for _, p := range created {
		printer.Success("Created %s\n", filepath.Clean(p))
	}
	printer.Println()
	printer.Info("Next steps:\n")
	printer.Info("  1. ampli manifest build --dir <reads>\n")
	printer.Info("  2. ampli import, then inspect %s\n", filepath.Join("<work_dir>", "demux.qzv"))
	printer.Info("  3. set denoise.trunc_len_f / trunc_len_r and classify.jar\n")
	printer.Info("  4. ampli run\n")
	return nil
}
