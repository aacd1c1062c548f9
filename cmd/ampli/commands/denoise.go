package commands

import (
	"context"

	"github.com/dyluth/ampli/internal/manifest"
	"github.com/dyluth/ampli/internal/printer"
	"github.com/dyluth/ampli/internal/stage"
	"github.com/spf13/cobra"
)

var denoiseOpts execOptions

// denoiseFlags override the denoise section of ampli.yml.
type denoiseFlags struct {
	truncLenF, truncLenR     int
	trimLeftF, trimLeftR     int
	threads                  int
	readLengthF, readLengthR int
}

var denoiseFlagValues denoiseFlags

var denoiseCmd = &cobra.Command{
	Use:   "denoise",
	Short: "Denoise reads with DADA2 into table, rep-seqs and stats",
	Long: `Run DADA2 on paired-end-demux.qza, producing table.qza, rep-seqs.qza and
denoising-stats.qza.

Truncation lengths are required. They are checked against the raw read
lengths before DADA2 starts: given by --read-length-f/-r, or measured by
sampling the FASTQ files in the manifest. A truncation length longer than
the reads is rejected, never clamped.

Examples:
  ampli denoise --trunc-len-f 240 --trunc-len-r 200
  ampli denoise --trunc-len-f 150 --trunc-len-r 150 --read-length-f 151 --read-length-r 151`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		applyDenoiseFlags(cmd, p)

		ctx, cancel := signalContext()
		defer cancel()
		resolveReadLengths(ctx, p)
		return p.execute(ctx, []stage.Stage{p.plan.Denoise()}, denoiseOpts)
	},
}

func init() {
	addDenoiseFlags(denoiseCmd)
	addExecFlags(denoiseCmd, &denoiseOpts)
	rootCmd.AddCommand(denoiseCmd)
}

func addDenoiseFlags(cmd *cobra.Command) {
	f := &denoiseFlagValues
	cmd.Flags().IntVar(&f.truncLenF, "trunc-len-f", 0, "Forward truncation length (overrides denoise.trunc_len_f)")
	cmd.Flags().IntVar(&f.truncLenR, "trunc-len-r", 0, "Reverse truncation length (overrides denoise.trunc_len_r)")
	cmd.Flags().IntVar(&f.trimLeftF, "trim-left-f", 0, "Bases trimmed from the start of forward reads")
	cmd.Flags().IntVar(&f.trimLeftR, "trim-left-r", 0, "Bases trimmed from the start of reverse reads")
	cmd.Flags().IntVar(&f.threads, "threads", 0, "DADA2 threads, 0 for every core (overrides denoise.threads)")
	cmd.Flags().IntVar(&f.readLengthF, "read-length-f", 0, "Raw forward read length (skips probing the FASTQ files)")
	cmd.Flags().IntVar(&f.readLengthR, "read-length-r", 0, "Raw reverse read length (skips probing the FASTQ files)")
}

// applyDenoiseFlags copies explicitly set flags over the configuration.
func applyDenoiseFlags(cmd *cobra.Command, p *project) {
	f := denoiseFlagValues
	d := &p.cfg.Denoise
	flags := cmd.Flags()
	if flags.Changed("trunc-len-f") {
		d.TruncLenF = f.truncLenF
	}
	if flags.Changed("trunc-len-r") {
		d.TruncLenR = f.truncLenR
	}
	if flags.Changed("trim-left-f") {
		d.TrimLeftF = f.trimLeftF
	}
	if flags.Changed("trim-left-r") {
		d.TrimLeftR = f.trimLeftR
	}
	if flags.Changed("threads") {
		d.Threads = f.threads
	}
}

// resolveReadLengths sets the raw read lengths the truncation lengths are
// checked against. When they can be neither given nor measured the check is
// skipped with a warning; DADA2 then reports the mismatch itself.
func resolveReadLengths(ctx context.Context, p *project) {
	f := denoiseFlagValues
	if f.readLengthF > 0 && f.readLengthR > 0 {
		p.plan.ReadLengths = &manifest.ReadLengths{Forward: f.readLengthF, Reverse: f.readLengthR}
		return
	}
	lengths, err := p.plan.ProbeReadLengths(ctx)
	if err != nil {
		printer.Warning("Raw read lengths unknown, truncation lengths are not checked: %v\n", err)
		return
	}
	if f.readLengthF > 0 {
		lengths.Forward = f.readLengthF
	}
	if f.readLengthR > 0 {
		lengths.Reverse = f.readLengthR
	}
}
