package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dyluth/ampli/internal/config"
	"github.com/dyluth/ampli/internal/export"
	"github.com/dyluth/ampli/internal/manifest"
	"github.com/dyluth/ampli/internal/stage"
	"github.com/dyluth/ampli/internal/workspace"
)

// Plan builds stages from the configuration for one work directory.
type Plan struct {
	Config    *config.Config
	Workspace *workspace.Workspace
	Tools     stage.Tools
	// Manifest is the absolute path of the sample manifest.
	Manifest string
	// ReadLengths bounds the DADA2 truncation lengths when known.
	ReadLengths *manifest.ReadLengths
}

// NewPlan resolves the manifest path against baseDir (the directory holding
// ampli.yml) and picks tool names for the runner mode.
func NewPlan(cfg *config.Config, ws *workspace.Workspace, baseDir string) *Plan {
	tools := stage.DefaultTools()
	if cfg.Runner.Mode == "local" {
		tools = stage.Tools{Qiime: cfg.Runner.Qiime, Biom: cfg.Runner.Biom, Java: cfg.Runner.Java}
	}
	return &Plan{
		Config:    cfg,
		Workspace: ws,
		Tools:     tools,
		Manifest:  resolve(baseDir, cfg.Manifest.Path),
	}
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ProbeReadLengths samples the manifest's FASTQ files and stores the result
// for the denoise stage.
func (p *Plan) ProbeReadLengths(ctx context.Context) (*manifest.ReadLengths, error) {
	m, err := manifest.ParseFile(p.Manifest)
	if err != nil {
		return nil, err
	}
	lengths, err := manifest.ProbeReadLengths(ctx, m, manifest.ProbeOptions{
		Reads:   p.Config.Denoise.ProbeReads,
		Workers: p.Config.Denoise.Threads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to probe read lengths: %w", err)
	}
	p.ReadLengths = &lengths
	return &lengths, nil
}

func (p *Plan) Import() *stage.Import {
	return &stage.Import{
		Manifest:    p.Manifest,
		WorkDir:     p.Workspace.Root,
		Type:        p.Config.Import.Type,
		InputFormat: p.Config.Import.InputFormat,
		CheckPaths:  *p.Config.Manifest.CheckPaths,
		Tools:       p.Tools,
	}
}

func (p *Plan) Summarize() *stage.Summarize {
	return &stage.Summarize{
		Demux:    p.Workspace.Path(stage.FileDemux),
		WorkDir:  p.Workspace.Root,
		Required: p.Config.Import.Summarize == "required",
		Tools:    p.Tools,
	}
}

func (p *Plan) Denoise() *stage.Denoise {
	d := p.Config.Denoise
	return &stage.Denoise{
		Demux:   p.Workspace.Path(stage.FileDemux),
		WorkDir: p.Workspace.Root,
		Params: stage.DenoiseParams{
			TruncLenF: d.TruncLenF,
			TruncLenR: d.TruncLenR,
			TrimLeftF: d.TrimLeftF,
			TrimLeftR: d.TrimLeftR,
			Threads:   d.Threads,
		},
		ReadLengths: p.ReadLengths,
		Tools:       p.Tools,
	}
}

func (p *Plan) Phylogeny() *stage.Phylogeny {
	return &stage.Phylogeny{
		RepSeqs: p.Workspace.Path(stage.FileRepSeqs),
		WorkDir: p.Workspace.Root,
		Threads: p.Config.Phylogeny.Threads,
		Tools:   p.Tools,
	}
}

func (p *Plan) Export() *export.Exporter {
	return export.New(p.Workspace.Root, p.Workspace.ExportDir(), p.Tools)
}

func (p *Plan) Classify() *stage.Classify {
	c := p.Config.Classify
	return &stage.Classify{
		Fasta:      filepath.Join(p.Workspace.ExportDir(), export.FileSequences),
		Dir:        p.Workspace.ExportDir(),
		Jar:        c.Jar,
		Training:   c.Training,
		Gene:       c.Gene,
		Confidence: c.Confidence,
		Memory:     c.Memory,
		Tools:      p.Tools,
	}
}

// Stages returns the full pipeline after the manifest, skipping any stage
// named in skip. The summary is left out when import.summarize is "skip".
func (p *Plan) Stages(skip ...string) ([]stage.Stage, error) {
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		switch name {
		case stage.NameImport, stage.NameSummarize, stage.NameDenoise,
			stage.NamePhylogeny, stage.NameExport, stage.NameClassify:
			skipped[name] = true
		default:
			return nil, fmt.Errorf("unknown stage %q", name)
		}
	}
	if p.Config.Import.Summarize == "skip" {
		skipped[stage.NameSummarize] = true
	}

	var out []stage.Stage
	for _, s := range []stage.Stage{
		p.Import(), p.Summarize(), p.Denoise(), p.Phylogeny(), p.Export(), p.Classify(),
	} {
		if !skipped[s.Name()] {
			out = append(out, s)
		}
	}
	return out, nil
}
