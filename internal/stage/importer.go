package stage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dyluth/ampli/internal/manifest"
	"github.com/dyluth/ampli/internal/qza"
	"github.com/dyluth/ampli/internal/runner"
)

// Import wraps `qiime tools import` for a paired-end manifest.
type Import struct {
	Manifest    string // path to the manifest file
	WorkDir     string
	Type        string
	InputFormat string
	CheckPaths  bool
	Tools       Tools

	m *manifest.Manifest
}

func (s *Import) Name() string { return NameImport }

func (s *Import) Dest() string { return s.WorkDir }

func (s *Import) Outputs() []string { return []string{FileDemux} }

// Inputs is the manifest followed by every read file it lists, so a changed
// FASTQ invalidates a cached import.
func (s *Import) Inputs() []string {
	inputs := []string{s.Manifest}
	if s.m != nil {
		for _, row := range s.m.Rows {
			inputs = append(inputs, row.Forward, row.Reverse)
		}
	}
	return inputs
}

// Samples returns the parsed manifest's sample ids; valid after Check.
func (s *Import) Samples() []string {
	if s.m == nil {
		return nil
	}
	return s.m.SampleIDs()
}

func (s *Import) Check(ctx context.Context) error {
	return s.Preflight()
}

// Preflight parses and validates the manifest.
func (s *Import) Preflight() error {
	if s.Type == "" || s.InputFormat == "" {
		return inputErrorf(NameImport, "import type and input format are required")
	}
	m, err := manifest.ParseFile(s.Manifest)
	if err != nil {
		return &InputError{Stage: NameImport, Err: err}
	}
	if err := manifest.Validate(m, manifest.ValidateOptions{CheckPaths: s.CheckPaths}); err != nil {
		return &InputError{Stage: NameImport, Err: err}
	}
	s.m = m
	return nil
}

func (s *Import) Invocations(staging string) []runner.Invocation {
	mounts := []string{s.WorkDir, filepath.Dir(s.Manifest)}
	if s.m != nil {
		mounts = append(mounts, s.m.Dirs()...)
	}
	return []runner.Invocation{{
		Stage: NameImport,
		Tool:  runner.ToolQiime,
		Args: []string{
			s.Tools.Qiime, "tools", "import",
			"--type", s.Type,
			"--input-path", s.Manifest,
			"--output-path", filepath.Join(staging, FileDemux),
			"--input-format", s.InputFormat,
		},
		Mounts: mounts,
	}}
}

// Finish requires the archive to hold exactly the manifest's samples.
func (s *Import) Finish(staging string) error {
	a, err := expectArchive(filepath.Join(staging, FileDemux), s.Type)
	if err != nil {
		return err
	}
	defer a.Close()

	// Only the demux type carries data/MANIFEST.
	if s.Type != qza.TypePairedEndDemux {
		return nil
	}
	got, err := a.SampleIDs()
	if err != nil {
		return fmt.Errorf("failed to read samples from %s: %w", FileDemux, err)
	}
	return compareSets("samples in "+FileDemux, s.Samples(), got)
}

// Summarize wraps `qiime demux summarize`, a read-only quality report.
type Summarize struct {
	Demux    string
	WorkDir  string
	Required bool
	Tools    Tools
}

func (s *Summarize) Name() string { return NameSummarize }

func (s *Summarize) Dest() string { return s.WorkDir }

func (s *Summarize) Inputs() []string { return []string{s.Demux} }

func (s *Summarize) Outputs() []string { return []string{FileDemuxSummary} }

func (s *Summarize) Optional() bool { return !s.Required }

func (s *Summarize) Check(ctx context.Context) error {
	return checkInputArchive(NameSummarize, s.Demux, qza.TypePairedEndDemux)
}

func (s *Summarize) Invocations(staging string) []runner.Invocation {
	return []runner.Invocation{{
		Stage: NameSummarize,
		Tool:  runner.ToolQiime,
		Args: []string{
			s.Tools.Qiime, "demux", "summarize",
			"--i-data", s.Demux,
			"--o-visualization", filepath.Join(staging, FileDemuxSummary),
		},
		Mounts: []string{s.WorkDir},
	}}
}

func (s *Summarize) Finish(staging string) error {
	return checkArchive(filepath.Join(staging, FileDemuxSummary), qza.TypeVisualization)
}

// checkInputArchive reports a missing or mistyped upstream archive as an
// input error, before anything runs.
func checkInputArchive(stage, p, semanticType string) error {
	meta, err := qza.Peek(p)
	if err != nil {
		return &InputError{Stage: stage, Err: err}
	}
	if meta.Type != semanticType {
		return &InputError{Stage: stage, Err: &qza.TypeError{Path: p, Want: semanticType, Got: meta.Type}}
	}
	return nil
}
