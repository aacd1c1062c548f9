package commands

import (
	"fmt"

	"github.com/dyluth/ampli/internal/manifest"
	"github.com/dyluth/ampli/internal/printer"
	"github.com/spf13/cobra"
)

var (
	manifestDir        string
	manifestOut        string
	manifestGlob       string
	manifestRecursive  bool
	manifestLineEnding string
	manifestNoCheck    bool
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Build and validate the sample manifest",
}

var manifestBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a manifest from a directory of paired FASTQ files",
	Long: `Build a manifest by pairing forward and reverse read files.

Files are paired by their read marker (_R1/_R2, _1/_2). The sample id is
the file name prefix, with Illumina _S<n>_L<lane>_R1_001 suffixes
stripped. A read file without its mate, or two files claiming the same
sample, fails the build and lists every problem found.

Examples:
  # Write manifest.tsv (manifest.path) from ./reads
  ampli manifest build --dir reads

  # Only gzipped files, including sub-directories
  ampli manifest build --dir reads --glob '*.fastq.gz' --recursive`,
	RunE: runManifestBuild,
}

var manifestValidateCmd = &cobra.Command{
	Use:   "validate [FILE]",
	Short: "Check a manifest (default: manifest.path)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestValidate,
}

func init() {
	manifestBuildCmd.Flags().StringVar(&manifestDir, "dir", "", "Directory holding the FASTQ files")
	manifestBuildCmd.Flags().StringVarP(&manifestOut, "out", "o", "", "Output file (default: manifest.path)")
	manifestBuildCmd.Flags().StringVar(&manifestGlob, "glob", "", "Only consider file names matching this glob")
	manifestBuildCmd.Flags().BoolVarP(&manifestRecursive, "recursive", "r", false, "Descend into sub-directories")
	manifestBuildCmd.Flags().StringVar(&manifestLineEnding, "line-ending", "", "lf, crlf or native (default: manifest.line_ending)")
	manifestBuildCmd.MarkFlagRequired("dir")

	manifestValidateCmd.Flags().BoolVar(&manifestNoCheck, "no-check-paths", false, "Skip checking that read files exist")

	manifestCmd.AddCommand(manifestBuildCmd, manifestValidateCmd)
	rootCmd.AddCommand(manifestCmd)
}

func runManifestBuild(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	out := p.plan.Manifest
	if manifestOut != "" {
		out = manifestOut
	}
	m, err := buildManifest(p, manifestDir, out, manifest.ScanOptions{Glob: manifestGlob, Recursive: manifestRecursive})
	if err != nil {
		return err
	}
	printer.Success("Wrote %s (%d samples)\n", out, len(m.Rows))
	return nil
}

// buildManifest scans dir and writes the manifest to out.
func buildManifest(p *project, dir, out string, opts manifest.ScanOptions) (*manifest.Manifest, error) {
	le := p.cfg.Manifest.LineEnding
	if manifestLineEnding != "" {
		le = manifestLineEnding
	}
	ending, err := manifest.ParseLineEnding(le)
	if err != nil {
		return nil, fail("invalid line ending", err.Error(), nil)
	}

	m, err := manifest.Scan(dir, opts)
	if err != nil {
		return nil, fail("cannot build manifest", err.Error(), []string{
			"Read files must be named <sample>_R1.fastq.gz / <sample>_R2.fastq.gz (or _1/_2, or Illumina _S1_L001_R1_001)",
		})
	}
	if err := manifest.WriteFile(out, m, ending, manifest.ValidateOptions{CheckPaths: *p.cfg.Manifest.CheckPaths}); err != nil {
		return nil, fail("cannot write manifest", err.Error(), nil)
	}
	return m, nil
}

func runManifestValidate(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	path := p.plan.Manifest
	if len(args) > 0 {
		path = args[0]
	}

	m, err := manifest.ParseFile(path)
	if err == nil {
		err = manifest.Validate(m, manifest.ValidateOptions{CheckPaths: *p.cfg.Manifest.CheckPaths && !manifestNoCheck})
	}
	if err != nil {
		return fail("invalid manifest", fmt.Sprintf("%s: %v", path, err), []string{
			fmt.Sprintf("The first line must be exactly:\n  %s", manifest.Header),
		})
	}
	printer.Success("%s is valid (%d samples)\n", path, len(m.Rows))
	return nil
}
