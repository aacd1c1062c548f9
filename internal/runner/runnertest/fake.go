// Package runnertest provides an in-process Runner that imitates qiime, biom
// and the RDP classifier closely enough to exercise the pipeline end to end.
package runnertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/ampli/internal/manifest"
	"github.com/dyluth/ampli/internal/qza"
	"github.com/dyluth/ampli/internal/runner"
	"github.com/dyluth/ampli/internal/seqio"
	"github.com/google/uuid"
)

// Fake records every invocation and emulates the tools it names.
type Fake struct {
	// Sequences are the representative sequence ids DADA2 "finds".
	// Defaults to f1, f2, f3.
	Sequences []string
	// DropSample makes the importer silently lose the last manifest sample.
	DropSample bool
	// ExtraLeaf adds a leaf to both trees that has no sequence.
	ExtraLeaf bool
	// Fail maps a substring of the command line to the exit code it fails with.
	Fail map[string]int

	mu    sync.Mutex
	calls []runner.Invocation
}

// Name returns "fake".
func (f *Fake) Name() string { return "fake" }

// Calls returns a copy of the invocations seen so far.
func (f *Fake) Calls() []runner.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Invocation(nil), f.calls...)
}

// Commands returns each recorded invocation as "<tool> <subcommand...>",
// e.g. "qiime dada2 denoise-paired".
func (f *Fake) Commands() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, subcommand(c.Args))
	}
	return out
}

func (f *Fake) Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execution cancelled: %w", err)
	}
	start := time.Now()
	line := inv.String()
	for substr, code := range f.Fail {
		if strings.Contains(line, substr) {
			stderr := fmt.Sprintf("Plugin error from %s:\n\n  simulated failure\n", subcommand(inv.Args))
			return &runner.Result{ExitCode: code, Stderr: stderr, Duration: time.Since(start)},
				&runner.ToolError{Command: inv.Args, ExitCode: code, Stderr: stderr}
		}
	}

	var stdout bytes.Buffer
	if err := f.dispatch(inv.Args, &stdout); err != nil {
		return &runner.Result{ExitCode: 1, Stderr: err.Error(), Duration: time.Since(start)},
			&runner.ToolError{Command: inv.Args, ExitCode: 1, Stderr: err.Error()}
	}
	return &runner.Result{Stdout: stdout.String(), Duration: time.Since(start)}, nil
}

func subcommand(args []string) string {
	var parts []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			break
		}
		parts = append(parts, filepath.Base(a))
	}
	if len(args) > 0 && filepath.Base(args[0]) == "java" {
		return "java classify"
	}
	return strings.Join(parts, " ")
}

func (f *Fake) dispatch(args []string, stdout io.Writer) error {
	switch subcommand(args) {
	case "qiime tools import":
		return f.importReads(args)
	case "qiime demux summarize":
		return create(flag(args, "--o-visualization"), qza.TypeVisualization, "", map[string][]byte{"index.html": []byte("<html></html>\n")})
	case "qiime dada2 denoise-paired":
		return f.denoise(args)
	case "qiime phylogeny align-to-tree-mafft-fasttree":
		return f.phylogeny(args)
	case "qiime tools export":
		return exportArchive(flag(args, "--input-path"), flag(args, "--output-path"), stdout)
	case "biom convert":
		return copyFile(flag(args, "-i"), flag(args, "-o"))
	case "java classify":
		return classify(flag(args, "-o"), args[len(args)-1])
	}
	return fmt.Errorf("unsupported command: %s", strings.Join(args, " "))
}

func flag(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func create(p, semanticType, format string, files map[string][]byte) error {
	if p == "" {
		return fmt.Errorf("missing output path")
	}
	return qza.Create(p, qza.Metadata{UUID: uuid.NewString(), Type: semanticType, Format: format}, files)
}

func (f *Fake) importReads(args []string) error {
	m, err := manifest.ParseFile(flag(args, "--input-path"))
	if err != nil {
		return fmt.Errorf("there was a problem importing %s: %w", flag(args, "--input-path"), err)
	}
	rows := m.Rows
	if f.DropSample && len(rows) > 1 {
		rows = rows[:len(rows)-1]
	}
	var b strings.Builder
	b.WriteString("# direction is not meaningful in this file\nsample-id,filename,direction\n")
	for i, r := range rows {
		fmt.Fprintf(&b, "%s,%s_%d_L001_R1_001.fastq.gz,forward\n", r.SampleID, r.SampleID, i)
		fmt.Fprintf(&b, "%s,%s_%d_L001_R2_001.fastq.gz,reverse\n", r.SampleID, r.SampleID, i)
	}
	return create(flag(args, "--output-path"), flag(args, "--type"), "SingleLanePerSamplePairedEndFastqDirFmt",
		map[string][]byte{"MANIFEST": []byte(b.String()), "metadata.yml": []byte("phred-offset: 33\n")})
}

func (f *Fake) sequenceIDs() []string {
	if len(f.Sequences) > 0 {
		return f.Sequences
	}
	return []string{"f1", "f2", "f3"}
}

func (f *Fake) denoise(args []string) error {
	demux, err := qza.Open(flag(args, "--i-demultiplexed-seqs"))
	if err != nil {
		return err
	}
	samples, err := demux.SampleIDs()
	demux.Close()
	if err != nil {
		return err
	}

	ids := f.sequenceIDs()
	var table, fasta, stats strings.Builder
	table.WriteString("# Constructed from biom file\n#OTU ID\t" + strings.Join(samples, "\t") + "\n")
	for i, id := range ids {
		table.WriteString(id)
		for j := range samples {
			fmt.Fprintf(&table, "\t%d.0", (i+1)*(j+2)%7)
		}
		table.WriteString("\n")
		fmt.Fprintf(&fasta, ">%s\n%s\n", id, strings.Repeat("ACGT", i+2))
	}
	stats.WriteString("sample-id\tinput\tfiltered\tdenoised\tmerged\tnon-chimeric\n#q2:types\tnumeric\tnumeric\tnumeric\tnumeric\tnumeric\n")
	for _, s := range samples {
		fmt.Fprintf(&stats, "%s\t100\t90\t85\t80\t75\n", s)
	}

	for _, out := range []struct {
		flag, semanticType, name, body string
	}{
		{"--o-table", qza.TypeFeatureTable, "feature-table.biom", table.String()},
		{"--o-representative-sequences", qza.TypeRepSeqs, "dna-sequences.fasta", fasta.String()},
		{"--o-denoising-stats", qza.TypeDenoisingStats, "stats.tsv", stats.String()},
	} {
		if err := create(flag(args, out.flag), out.semanticType, "", map[string][]byte{out.name: []byte(out.body)}); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) phylogeny(args []string) error {
	reps, err := qza.Open(flag(args, "--i-sequences"))
	if err != nil {
		return err
	}
	ids, err := reps.SequenceIDs()
	reps.Close()
	if err != nil {
		return err
	}
	if f.ExtraLeaf {
		ids = append(ids, "ghost")
	}

	leaves := make([]string, len(ids))
	for i, id := range ids {
		leaves[i] = fmt.Sprintf("%s:0.%d", id, i+1)
	}
	tree := []byte("(" + strings.Join(leaves, ",") + ");\n")
	aligned := []byte(">" + strings.Join(ids, "\nACGT-\n>") + "\nACGT-\n")

	for _, out := range []struct {
		flag, semanticType, name string
		body                     []byte
	}{
		{"--o-alignment", qza.TypeAlignedSeqs, "aligned-dna-sequences.fasta", aligned},
		{"--o-masked-alignment", qza.TypeAlignedSeqs, "aligned-dna-sequences.fasta", aligned},
		{"--o-tree", qza.TypeUnrootedTree, "tree.nwk", tree},
		{"--o-rooted-tree", qza.TypeRootedTree, "tree.nwk", tree},
	} {
		if err := create(flag(args, out.flag), out.semanticType, "", map[string][]byte{out.name: out.body}); err != nil {
			return err
		}
	}
	return nil
}

func exportArchive(in, out string, stdout io.Writer) error {
	a, err := qza.Open(in)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := os.MkdirAll(out, 0755); err != nil {
		return err
	}
	for _, name := range a.Files() {
		rc, err := a.OpenFile(name)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		target := filepath.Join(out, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "Exported %s as %s to directory %s\n", in, a.Format, out)
	return nil
}

func copyFile(in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0644)
}

// classify writes a fixed lineage for every sequence, with confidence
// falling off below class so thresholds have something to cut.
func classify(out, fasta string) error {
	records, err := seqio.ReadFastaFile(fasta)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s\t\tRoot\trootrank\t1.0\tBacteria\tdomain\t1.0\tFirmicutes\tphylum\t0.98\tBacilli\tclass\t0.9\tLactobacillales\torder\t0.42\tStreptococcaceae\tfamily\t0.4\tStreptococcus\tgenus\t0.39\n", r.ID)
	}
	return os.WriteFile(out, []byte(b.String()), 0644)
}
