// Package export turns the pipeline's archives into plain-text files for
// downstream statistics: TSV feature table, FASTA, Newick and TSV stats.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/ampli/internal/featuretable"
	"github.com/dyluth/ampli/internal/newick"
	"github.com/dyluth/ampli/internal/qza"
	"github.com/dyluth/ampli/internal/runner"
	"github.com/dyluth/ampli/internal/seqio"
	"github.com/dyluth/ampli/internal/stage"
)

// Exported file names.
const (
	FileFeatureTable   = "feature-table.tsv"
	FileSequences      = "dna-sequences.fasta"
	FileUnrootedTree   = "unrooted_tree.nwk"
	FileRootedTree     = "rooted_tree.nwk"
	FileDenoisingStats = "denoising-stats.tsv"

	biomName   = "feature-table.biom"
	rawTSVName = "raw.tsv"
)

// Kind selects how an exported payload is post-processed.
type Kind int

const (
	KindFeatureTable Kind = iota
	KindSequences
	KindTree
	KindStats
)

// Item maps one archive to one exported file.
type Item struct {
	Archive string // absolute path of the .qza
	Type    string // required semantic type
	Kind    Kind
	Source  string // file written by `qiime tools export`
	Target  string // name in the export directory
}

func (it Item) scratch(staging string) string {
	return filepath.Join(staging, ".scratch-"+strings.TrimSuffix(filepath.Base(it.Archive), ".qza"))
}

// Standard returns the items for every archive the pipeline produces.
func Standard(workDir string) []Item {
	return []Item{
		{filepath.Join(workDir, stage.FileTable), qza.TypeFeatureTable, KindFeatureTable, biomName, FileFeatureTable},
		{filepath.Join(workDir, stage.FileRepSeqs), qza.TypeRepSeqs, KindSequences, FileSequences, FileSequences},
		{filepath.Join(workDir, stage.FileDenoisingStats), qza.TypeDenoisingStats, KindStats, "stats.tsv", FileDenoisingStats},
		{filepath.Join(workDir, stage.FileUnrootedTree), qza.TypeUnrootedTree, KindTree, "tree.nwk", FileUnrootedTree},
		{filepath.Join(workDir, stage.FileRootedTree), qza.TypeRootedTree, KindTree, "tree.nwk", FileRootedTree},
	}
}

// Exporter is the export stage. Each archive is exported into a private
// scratch directory; only the final files are promoted into Dir, so a rerun
// replaces them atomically with identical bytes.
type Exporter struct {
	WorkDir string
	Dir     string
	Items   []Item
	Tools   stage.Tools
}

// New builds the standard exporter writing into dir.
func New(workDir, dir string, tools stage.Tools) *Exporter {
	return &Exporter{WorkDir: workDir, Dir: dir, Items: Standard(workDir), Tools: tools}
}

func (e *Exporter) Name() string { return stage.NameExport }

func (e *Exporter) Dest() string { return e.Dir }

func (e *Exporter) Inputs() []string {
	in := make([]string, len(e.Items))
	for i, it := range e.Items {
		in[i] = it.Archive
	}
	return in
}

func (e *Exporter) Outputs() []string {
	out := make([]string, len(e.Items))
	for i, it := range e.Items {
		out[i] = it.Target
	}
	return out
}

func (e *Exporter) Check(ctx context.Context) error {
	if len(e.Items) == 0 {
		return &stage.InputError{Stage: stage.NameExport, Err: fmt.Errorf("nothing to export")}
	}
	targets := make(map[string]string)
	for _, it := range e.Items {
		if prev, dup := targets[it.Target]; dup {
			return &stage.InputError{Stage: stage.NameExport, Err: fmt.Errorf("%s and %s both export to %s", prev, it.Archive, it.Target)}
		}
		targets[it.Target] = it.Archive

		meta, err := qza.Peek(it.Archive)
		if err != nil {
			return &stage.InputError{Stage: stage.NameExport, Err: err}
		}
		if meta.Type != it.Type {
			return &stage.InputError{Stage: stage.NameExport, Err: &qza.TypeError{Path: it.Archive, Want: it.Type, Got: meta.Type}}
		}
	}
	return nil
}

func (e *Exporter) Invocations(staging string) []runner.Invocation {
	var invs []runner.Invocation
	for _, it := range e.Items {
		scratch := it.scratch(staging)
		invs = append(invs, runner.Invocation{
			Stage:  stage.NameExport,
			Tool:   runner.ToolQiime,
			Args:   []string{e.Tools.Qiime, "tools", "export", "--input-path", it.Archive, "--output-path", scratch},
			Mounts: []string{e.WorkDir, staging},
		})
		if it.Kind == KindFeatureTable {
			invs = append(invs, runner.Invocation{
				Stage: stage.NameExport,
				Tool:  runner.ToolBiom,
				Args: []string{
					e.Tools.Biom, "convert",
					"-i", filepath.Join(scratch, it.Source),
					"-o", filepath.Join(scratch, rawTSVName),
					"--to-tsv",
				},
				Mounts: []string{staging},
			})
		}
	}
	return invs
}

// Finish normalizes the feature table, renames the remaining payloads and
// checks that sequences and trees parse.
func (e *Exporter) Finish(staging string) error {
	for _, it := range e.Items {
		scratch := it.scratch(staging)
		target := filepath.Join(staging, it.Target)

		var err error
		switch it.Kind {
		case KindFeatureTable:
			err = normalizeTable(filepath.Join(scratch, rawTSVName), target)
		default:
			err = os.Rename(filepath.Join(scratch, it.Source), target)
			if err == nil {
				err = verify(it.Kind, target)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", filepath.Base(it.Archive), err)
		}
		if err := os.RemoveAll(scratch); err != nil {
			return fmt.Errorf("failed to clean scratch directory: %w", err)
		}
	}
	return nil
}

func normalizeTable(in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := featuretable.Normalize(src, dst); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func verify(kind Kind, p string) error {
	switch kind {
	case KindSequences:
		records, err := seqio.ReadFastaFile(p)
		if err != nil {
			return err
		}
		_, err = seqio.FastaIDs(records)
		return err
	case KindTree:
		_, err := newick.ReadLeavesFile(p)
		return err
	}
	return nil
}
