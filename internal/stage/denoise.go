package stage

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/dyluth/ampli/internal/manifest"
	"github.com/dyluth/ampli/internal/qza"
	"github.com/dyluth/ampli/internal/runner"
)

// DenoiseParams are the DADA2 knobs. Truncation lengths are required.
type DenoiseParams struct {
	TruncLenF int
	TruncLenR int
	TrimLeftF int
	TrimLeftR int
	Threads   int // 0 lets DADA2 use every core
}

// Denoise wraps `qiime dada2 denoise-paired`.
type Denoise struct {
	Demux   string
	WorkDir string
	Params  DenoiseParams
	// ReadLengths, when non-nil, bounds the truncation lengths.
	ReadLengths *manifest.ReadLengths
	Tools       Tools
}

func (s *Denoise) Name() string { return NameDenoise }

func (s *Denoise) Dest() string { return s.WorkDir }

func (s *Denoise) Inputs() []string { return []string{s.Demux} }

func (s *Denoise) Outputs() []string {
	return []string{FileTable, FileRepSeqs, FileDenoisingStats}
}

// Check rejects truncation lengths that are zero or longer than the raw
// reads. Lengths are never clamped.
func (s *Denoise) Check(ctx context.Context) error {
	if err := s.Preflight(); err != nil {
		return err
	}
	return checkInputArchive(NameDenoise, s.Demux, qza.TypePairedEndDemux)
}

func (s *Denoise) Preflight() error {
	return CheckTruncation(s.Params, s.ReadLengths)
}

// CheckTruncation validates DADA2 truncation and trim lengths against the
// observed raw read lengths (nil when unknown).
func CheckTruncation(p DenoiseParams, lengths *manifest.ReadLengths) error {
	for _, dir := range []struct {
		name        string
		trunc, trim int
		raw         int
	}{
		{"forward", p.TruncLenF, p.TrimLeftF, rawLength(lengths, true)},
		{"reverse", p.TruncLenR, p.TrimLeftR, rawLength(lengths, false)},
	} {
		if dir.trunc <= 0 {
			return inputErrorf(NameDenoise, "%s truncation length must be greater than 0, got %d", dir.name, dir.trunc)
		}
		if dir.trim < 0 {
			return inputErrorf(NameDenoise, "%s trim-left must be >= 0, got %d", dir.name, dir.trim)
		}
		if dir.trim >= dir.trunc {
			return inputErrorf(NameDenoise, "%s trim-left (%d) must be less than the truncation length (%d)", dir.name, dir.trim, dir.trunc)
		}
		if dir.raw > 0 && dir.trunc > dir.raw {
			return inputErrorf(NameDenoise, "%s truncation length %d exceeds the raw read length %d", dir.name, dir.trunc, dir.raw)
		}
	}
	if p.Threads < 0 {
		return inputErrorf(NameDenoise, "threads must be >= 0, got %d", p.Threads)
	}
	return nil
}

func rawLength(l *manifest.ReadLengths, forward bool) int {
	if l == nil {
		return 0
	}
	if forward {
		return l.Forward
	}
	return l.Reverse
}

func (s *Denoise) Invocations(staging string) []runner.Invocation {
	args := []string{
		s.Tools.Qiime, "dada2", "denoise-paired",
		"--i-demultiplexed-seqs", s.Demux,
		"--p-trunc-len-f", strconv.Itoa(s.Params.TruncLenF),
		"--p-trunc-len-r", strconv.Itoa(s.Params.TruncLenR),
	}
	if s.Params.TrimLeftF > 0 {
		args = append(args, "--p-trim-left-f", strconv.Itoa(s.Params.TrimLeftF))
	}
	if s.Params.TrimLeftR > 0 {
		args = append(args, "--p-trim-left-r", strconv.Itoa(s.Params.TrimLeftR))
	}
	args = append(args,
		"--p-n-threads", strconv.Itoa(s.Params.Threads),
		"--o-table", filepath.Join(staging, FileTable),
		"--o-representative-sequences", filepath.Join(staging, FileRepSeqs),
		"--o-denoising-stats", filepath.Join(staging, FileDenoisingStats),
	)
	return []runner.Invocation{{
		Stage:  NameDenoise,
		Tool:   runner.ToolQiime,
		Args:   args,
		Mounts: []string{s.WorkDir},
	}}
}

func (s *Denoise) Finish(staging string) error {
	for _, out := range []struct{ name, semanticType string }{
		{FileTable, qza.TypeFeatureTable},
		{FileRepSeqs, qza.TypeRepSeqs},
		{FileDenoisingStats, qza.TypeDenoisingStats},
	} {
		if err := checkArchive(filepath.Join(staging, out.name), out.semanticType); err != nil {
			return err
		}
	}
	return nil
}
