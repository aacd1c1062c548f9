package stage

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dyluth/ampli/internal/qza"
	"github.com/dyluth/ampli/internal/runner"
)

// Phylogeny wraps `qiime phylogeny align-to-tree-mafft-fasttree`.
type Phylogeny struct {
	RepSeqs string
	WorkDir string
	Threads int // 0 passes "auto"
	Tools   Tools
}

func (s *Phylogeny) Name() string { return NamePhylogeny }

func (s *Phylogeny) Dest() string { return s.WorkDir }

func (s *Phylogeny) Inputs() []string { return []string{s.RepSeqs} }

func (s *Phylogeny) Outputs() []string {
	return []string{FileAligned, FileMasked, FileUnrootedTree, FileRootedTree}
}

func (s *Phylogeny) Check(ctx context.Context) error {
	if err := s.Preflight(); err != nil {
		return err
	}
	return checkInputArchive(NamePhylogeny, s.RepSeqs, qza.TypeRepSeqs)
}

func (s *Phylogeny) Preflight() error {
	if s.Threads < 0 {
		return inputErrorf(NamePhylogeny, "threads must be >= 0, got %d", s.Threads)
	}
	return nil
}

func (s *Phylogeny) Invocations(staging string) []runner.Invocation {
	threads := "auto"
	if s.Threads > 0 {
		threads = strconv.Itoa(s.Threads)
	}
	return []runner.Invocation{{
		Stage: NamePhylogeny,
		Tool:  runner.ToolQiime,
		Args: []string{
			s.Tools.Qiime, "phylogeny", "align-to-tree-mafft-fasttree",
			"--i-sequences", s.RepSeqs,
			"--p-n-threads", threads,
			"--o-alignment", filepath.Join(staging, FileAligned),
			"--o-masked-alignment", filepath.Join(staging, FileMasked),
			"--o-tree", filepath.Join(staging, FileUnrootedTree),
			"--o-rooted-tree", filepath.Join(staging, FileRootedTree),
		},
		Mounts: []string{s.WorkDir},
	}}
}

// Finish checks output types and that both trees have exactly one leaf per
// representative sequence.
func (s *Phylogeny) Finish(staging string) error {
	for _, out := range []struct{ name, semanticType string }{
		{FileAligned, qza.TypeAlignedSeqs},
		{FileMasked, qza.TypeAlignedSeqs},
	} {
		if err := checkArchive(filepath.Join(staging, out.name), out.semanticType); err != nil {
			return err
		}
	}

	reps, err := qza.Open(s.RepSeqs)
	if err != nil {
		return err
	}
	ids, err := reps.SequenceIDs()
	reps.Close()
	if err != nil {
		return fmt.Errorf("failed to read representative sequence ids: %w", err)
	}

	for _, tree := range []struct{ name, semanticType string }{
		{FileUnrootedTree, qza.TypeUnrootedTree},
		{FileRootedTree, qza.TypeRootedTree},
	} {
		if err := checkLeaves(filepath.Join(staging, tree.name), tree.semanticType, ids); err != nil {
			return err
		}
	}
	return nil
}

func checkLeaves(p, semanticType string, ids []string) error {
	a, err := expectArchive(p, semanticType)
	if err != nil {
		return err
	}
	defer a.Close()
	leaves, err := a.TreeLeaves()
	if err != nil {
		return err
	}
	if len(leaves) != len(ids) {
		if err := compareSets("leaves of "+filepath.Base(p), ids, leaves); err != nil {
			return err
		}
		return fmt.Errorf("%s has %d leaves for %d sequences", filepath.Base(p), len(leaves), len(ids))
	}
	return compareSets("leaves of "+filepath.Base(p), ids, leaves)
}
