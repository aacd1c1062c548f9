package commands

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes returned by the ampli binary.
const (
	ExitInput     = 1 // usage, configuration, manifest or parameter errors
	ExitTool      = 2 // an external tool failed or produced bad outputs
	ExitCancelled = 130
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath string
	workDir    string
	runnerMode string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ampli",
	Short: "ampli - 16S amplicon analysis pipeline",
	Long: `ampli drives a paired-end 16S amplicon analysis from raw FASTQ files
to a taxonomy table:

  manifest → import → denoise (DADA2) → phylogeny → export → classify (RDP)

Every stage writes into a staging directory and its outputs are promoted
into the work directory only when all of them exist and verify. With a
ledger configured, every artifact is recorded with its provenance and
unchanged stages are reused on the next run.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Engine diagnostics go to stderr only on request; operator output
		// goes through the printer.
		if verbose {
			log.SetOutput(os.Stderr)
		} else {
			log.SetOutput(io.Discard)
		}
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	var ee *exitError
	if err != nil && !errors.As(err, &ee) {
		// Flag and argument errors from Cobra have not been printed yet.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ampli.yml", "Path to ampli.yml")
	rootCmd.PersistentFlags().StringVarP(&workDir, "work-dir", "w", "", "Work directory (overrides work_dir)")
	rootCmd.PersistentFlags().StringVar(&runnerMode, "runner", "", "Where tools run: local or docker (overrides runner.mode)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine diagnostics and tool output to stderr")
}

// exitError carries the process exit code of an error that has already been
// printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitInput
}
