package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dyluth/ampli/internal/runner"
	"github.com/dyluth/ampli/internal/seqio"
	"github.com/dyluth/ampli/internal/taxonomy"
)

// Classify runs the RDP classifier over the exported representative
// sequences and renders the thresholded taxonomy table.
type Classify struct {
	Fasta      string
	Dir        string // destination, normally the export directory
	Jar        string
	Training   string // rRNAClassifier.properties; overrides Gene
	Gene       string
	Confidence float64
	Memory     string
	Tools      Tools

	ids []string
}

func (s *Classify) Name() string { return NameClassify }

func (s *Classify) Dest() string { return s.Dir }

func (s *Classify) Outputs() []string { return []string{FileTaxonomy, FileAllRank} }

func (s *Classify) Inputs() []string {
	inputs := []string{s.Fasta, s.Jar}
	if s.Training != "" {
		inputs = append(inputs, s.Training)
	}
	return inputs
}

func (s *Classify) Check(ctx context.Context) error {
	if err := s.Preflight(); err != nil {
		return err
	}
	records, err := seqio.ReadFastaFile(s.Fasta)
	if err != nil {
		return &InputError{Stage: NameClassify, Err: err}
	}
	ids, err := seqio.FastaIDs(records)
	if err != nil {
		return &InputError{Stage: NameClassify, Err: err}
	}
	if len(ids) == 0 {
		return inputErrorf(NameClassify, "%s contains no sequences", s.Fasta)
	}
	s.ids = ids
	return nil
}

// Preflight checks the classifier installation and parameters.
func (s *Classify) Preflight() error {
	if s.Jar == "" {
		return inputErrorf(NameClassify, "classifier jar is not configured (classify.jar)")
	}
	if err := regularFile(s.Jar); err != nil {
		return &InputError{Stage: NameClassify, Err: err}
	}
	if s.Training != "" {
		if err := regularFile(s.Training); err != nil {
			return &InputError{Stage: NameClassify, Err: err}
		}
	} else if s.Gene == "" {
		return inputErrorf(NameClassify, "either a training set or a gene must be configured")
	}
	if s.Confidence <= 0 || s.Confidence > 1 {
		return inputErrorf(NameClassify, "confidence must be within (0, 1], got %g", s.Confidence)
	}
	return nil
}

func regularFile(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", p)
	}
	return nil
}

func (s *Classify) Invocations(staging string) []runner.Invocation {
	args := []string{s.Tools.Java}
	if s.Memory != "" {
		args = append(args, "-Xmx"+s.Memory)
	}
	args = append(args,
		"-jar", s.Jar, "classify",
		"-c", strconv.FormatFloat(s.Confidence, 'f', -1, 64),
		"-f", "allrank",
	)
	mounts := []string{s.Dir, filepath.Dir(s.Fasta), filepath.Dir(s.Jar), staging}
	if s.Training != "" {
		args = append(args, "-t", s.Training)
		mounts = append(mounts, filepath.Dir(s.Training))
	} else {
		args = append(args, "-g", s.Gene)
	}
	args = append(args, "-o", filepath.Join(staging, FileAllRank), s.Fasta)

	return []runner.Invocation{{
		Stage:  NameClassify,
		Tool:   runner.ToolJava,
		Args:   args,
		Mounts: mounts,
	}}
}

// Finish parses the allrank output, requires one result per input sequence
// and writes the taxonomy table next to it.
func (s *Classify) Finish(staging string) error {
	raw, err := os.Open(filepath.Join(staging, FileAllRank))
	if err != nil {
		return fmt.Errorf("failed to open classifier output: %w", err)
	}
	assignments, err := taxonomy.ParseAllRank(raw)
	raw.Close()
	if err != nil {
		return err
	}
	if err := taxonomy.CheckCoverage(assignments, s.ids); err != nil {
		return err
	}

	out, err := os.Create(filepath.Join(staging, FileTaxonomy))
	if err != nil {
		return fmt.Errorf("failed to create taxonomy table: %w", err)
	}
	if err := taxonomy.WriteTable(out, assignments, s.Confidence); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
