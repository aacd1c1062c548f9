// Package stage defines the pipeline steps: how each one is invoked, what it
// checks before running and what it verifies afterwards.
package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/ampli/internal/qza"
	"github.com/dyluth/ampli/internal/runner"
)

// Stage names, in pipeline order.
const (
	NameManifest  = "manifest"
	NameImport    = "import"
	NameSummarize = "summarize"
	NameDenoise   = "denoise"
	NamePhylogeny = "phylogeny"
	NameExport    = "export"
	NameClassify  = "classify"
)

// Output file names inside the work directory.
const (
	FileDemux          = "paired-end-demux.qza"
	FileDemuxSummary   = "demux.qzv"
	FileTable          = "table.qza"
	FileRepSeqs        = "rep-seqs.qza"
	FileDenoisingStats = "denoising-stats.qza"
	FileAligned        = "aligned-rep-seqs.qza"
	FileMasked         = "masked-aligned-rep-seqs.qza"
	FileUnrootedTree   = "unrooted-tree.qza"
	FileRootedTree     = "rooted-tree.qza"
	FileTaxonomy       = "taxonomy.tsv"
	FileAllRank        = "rdp-allrank.txt"
)

// Stage is one step of the pipeline. The engine calls Check, then runs
// Invocations in order inside a staging directory, then Finish, and finally
// promotes Outputs from the staging directory into Dest.
type Stage interface {
	Name() string
	// Inputs lists the files the outputs are derived from.
	Inputs() []string
	// Outputs lists the file names the stage declares, relative to Dest.
	Outputs() []string
	// Dest is the directory the outputs are promoted into.
	Dest() string
	// Check validates parameters and inputs before any tool runs.
	Check(ctx context.Context) error
	// Invocations returns the commands to run, writing into staging.
	Invocations(staging string) []runner.Invocation
	// Finish post-processes and verifies the staged outputs.
	Finish(staging string) error
}

// Preflighter is implemented by stages with checks that need no upstream
// outputs. A run preflights every stage before the first tool starts.
type Preflighter interface {
	Preflight() error
}

// Optional is implemented by stages whose failure is reported as a warning
// rather than halting the run.
type Optional interface {
	Optional() bool
}

// Tools names the executables invoked by the stages.
type Tools struct {
	Qiime string
	Biom  string
	Java  string
}

// DefaultTools resolves every tool from PATH.
func DefaultTools() Tools {
	return Tools{Qiime: "qiime", Biom: "biom", Java: "java"}
}

// InputError is a problem with parameters or inputs found before a tool runs.
type InputError struct {
	Stage string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

func inputErrorf(stage, format string, a ...any) error {
	return &InputError{Stage: stage, Err: fmt.Errorf(format, a...)}
}

// SetMismatchError reports an output whose identifier set differs from the
// one it must reproduce exactly.
type SetMismatchError struct {
	What    string // e.g. "samples in paired-end-demux.qza"
	Missing []string
	Extra   []string
}

func (e *SetMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected %s", strings.Join(e.Extra, ", ")))
	}
	return fmt.Sprintf("%s do not match: %s", e.What, strings.Join(parts, "; "))
}

// compareSets returns a *SetMismatchError unless got and want hold the same
// distinct values.
func compareSets(what string, want, got []string) error {
	wantSet := make(map[string]bool, len(want))
	for _, v := range want {
		wantSet[v] = true
	}
	gotSet := make(map[string]bool, len(got))
	for _, v := range got {
		gotSet[v] = true
	}
	e := &SetMismatchError{What: what}
	for v := range wantSet {
		if !gotSet[v] {
			e.Missing = append(e.Missing, v)
		}
	}
	for v := range gotSet {
		if !wantSet[v] {
			e.Extra = append(e.Extra, v)
		}
	}
	if len(e.Missing) == 0 && len(e.Extra) == 0 {
		return nil
	}
	sort.Strings(e.Missing)
	sort.Strings(e.Extra)
	return e
}

// expectArchive opens p and checks its semantic type.
func expectArchive(p, semanticType string) (*qza.Archive, error) {
	a, err := qza.Open(p)
	if err != nil {
		return nil, err
	}
	if err := a.ExpectType(semanticType); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// checkArchive is expectArchive for callers that only need the type check.
func checkArchive(p, semanticType string) error {
	a, err := expectArchive(p, semanticType)
	if err != nil {
		return err
	}
	return a.Close()
}
