// Package pipeline runs stages in order against one work directory, with
// staged promotion of outputs, provenance recording and result reuse.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/ampli/internal/qza"
	"github.com/dyluth/ampli/internal/runner"
	"github.com/dyluth/ampli/internal/stage"
	"github.com/dyluth/ampli/internal/workspace"
	"github.com/dyluth/ampli/pkg/ledger"
	"github.com/google/uuid"
)

// Options configures an Engine.
type Options struct {
	Runner    runner.Runner
	Workspace *workspace.Workspace
	// Ledger records provenance and enables result reuse; nil disables both.
	Ledger *ledger.Client
	// NoCache forces every stage to run even when a matching result exists.
	NoCache bool
	// Revision of the analysis project, stored on the run record.
	Revision string
	// OnEvent, when set, receives every stage event (also published to the
	// ledger when one is configured).
	OnEvent func(*ledger.StageEvent)
	// RunID overrides the generated run id, so a container runner can label
	// its containers before the engine exists.
	RunID string
}

// Engine executes stages strictly one after another.
type Engine struct {
	opts  Options
	runID string
	// known maps promoted output paths to their artifact ids, so later
	// stages can name their sources.
	known map[string]string
}

// NewEngine creates an engine, generating a run id unless one is given.
func NewEngine(opts Options) *Engine {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Engine{
		opts:  opts,
		runID: runID,
		known: make(map[string]string),
	}
}

// RunID returns the id recorded on every artifact and event of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// StageResult summarises one completed stage.
type StageResult struct {
	Stage    string
	Status   ledger.StageStatus
	Outputs  []string // absolute paths
	Duration time.Duration
	Warning  error // set when an optional stage failed
}

// Run preflights every stage, then executes them in order under the
// workspace lock. The first failure of a required stage halts the run.
func (e *Engine) Run(ctx context.Context, stages []stage.Stage) ([]StageResult, error) {
	for _, s := range stages {
		if p, ok := s.(stage.Preflighter); ok {
			if err := p.Preflight(); err != nil {
				return nil, err
			}
		}
	}

	lock, err := e.opts.Workspace.Acquire(e.runID)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	run := &ledger.Run{
		ID:          e.runID,
		Status:      ledger.RunStatusRunning,
		WorkDir:     e.opts.Workspace.Root,
		Revision:    e.opts.Revision,
		StartedAtMs: time.Now().UnixMilli(),
	}
	for _, s := range stages {
		run.Stages = append(run.Stages, s.Name())
	}
	e.saveRun(ctx, run)
	log.Printf("[Pipeline] Run %s started in %s (%d stages, runner: %s)", e.runID, run.WorkDir, len(stages), e.opts.Runner.Name())

	var results []StageResult
	for _, s := range stages {
		res, err := e.runStage(ctx, s)
		if err != nil {
			if opt, ok := s.(stage.Optional); ok && opt.Optional() && ctx.Err() == nil {
				log.Printf("[WARN] Optional stage %s failed: %v", s.Name(), err)
				e.emit(ctx, &ledger.StageEvent{Stage: s.Name(), Status: ledger.StageWarning, Message: err.Error()})
				results = append(results, StageResult{Stage: s.Name(), Status: ledger.StageWarning, Warning: err})
				continue
			}
			run.Status = ledger.RunStatusFailed
			if ctx.Err() != nil {
				run.Status = ledger.RunStatusCancelled
			}
			run.Error = err.Error()
			run.FinishedAtMs = time.Now().UnixMilli()
			e.saveRun(ctx, run)
			log.Printf("[Pipeline] Run %s %s at stage %s", e.runID, run.Status, s.Name())
			return results, err
		}
		results = append(results, *res)
	}

	run.Status = ledger.RunStatusSucceeded
	run.FinishedAtMs = time.Now().UnixMilli()
	e.saveRun(ctx, run)
	log.Printf("[Pipeline] Run %s succeeded", e.runID)
	return results, nil
}

func (e *Engine) runStage(ctx context.Context, s stage.Stage) (*StageResult, error) {
	start := time.Now()
	name := s.Name()

	if err := s.Check(ctx); err != nil {
		e.emit(ctx, &ledger.StageEvent{Stage: name, Status: ledger.StageFailed, Message: err.Error()})
		return nil, err
	}

	outputs := make([]string, 0, len(s.Outputs()))
	for _, o := range s.Outputs() {
		outputs = append(outputs, filepath.Join(s.Dest(), o))
	}
	inputs := s.Inputs()
	if err := workspace.CheckCollisions(inputs, outputs); err != nil {
		return nil, &stage.InputError{Stage: name, Err: err}
	}

	var hash string
	if e.opts.Ledger != nil {
		var err error
		hash, err = invocationHash(name, e.opts.Workspace.Root, s.Invocations(stagingPlaceholder), inputs)
		if err != nil {
			return nil, &stage.InputError{Stage: name, Err: err}
		}
		if !e.opts.NoCache {
			if ids, ok := e.lookup(ctx, hash, outputs); ok {
				log.Printf("[Pipeline] Stage %s reused outputs of invocation %s", name, hash[:12])
				e.emit(ctx, &ledger.StageEvent{Stage: name, Status: ledger.StageCached, Outputs: ids})
				return &StageResult{Stage: name, Status: ledger.StageCached, Outputs: outputs, Duration: time.Since(start)}, nil
			}
		}
	}

	staging, err := e.opts.Workspace.NewStaging(name)
	if err != nil {
		return nil, err
	}
	defer staging.Discard()

	invs := s.Invocations(staging.Dir)
	command := flatten(invs)
	e.emit(ctx, &ledger.StageEvent{Stage: name, Status: ledger.StageStarted, Command: command})

	for _, inv := range invs {
		log.Printf("[Pipeline] %s: %s", name, inv.String())
		res, err := e.opts.Runner.Run(ctx, inv)
		if err != nil {
			serr := &StageError{Stage: name, Command: inv.Args, ExitCode: -1, Err: err}
			var toolErr *runner.ToolError
			if errors.As(err, &toolErr) {
				serr.ExitCode = toolErr.ExitCode
				serr.Stderr = toolErr.Stderr
			}
			e.emit(ctx, &ledger.StageEvent{Stage: name, Status: ledger.StageFailed, Command: inv.Args, ExitCode: serr.ExitCode, Message: err.Error()})
			return nil, serr
		}
		log.Printf("[Pipeline] %s: %s finished in %s", name, filepath.Base(inv.Args[0]), res.Duration.Round(time.Millisecond))
	}

	if err := s.Finish(staging.Dir); err != nil {
		return nil, e.fail(ctx, name, command, err)
	}
	promoted, err := staging.Promote(s.Dest(), s.Outputs()...)
	if err != nil {
		return nil, e.fail(ctx, name, command, err)
	}

	ids := e.record(ctx, name, hash, command, inputs, promoted)
	e.emit(ctx, &ledger.StageEvent{Stage: name, Status: ledger.StageSucceeded, Command: command, Outputs: ids})
	log.Printf("[Pipeline] Stage %s succeeded in %s", name, time.Since(start).Round(time.Millisecond))
	return &StageResult{Stage: name, Status: ledger.StageSucceeded, Outputs: promoted, Duration: time.Since(start)}, nil
}

// fail reports a post-condition failure: the tools exited zero but their
// outputs are missing or wrong.
func (e *Engine) fail(ctx context.Context, name string, command []string, err error) error {
	e.emit(ctx, &ledger.StageEvent{Stage: name, Status: ledger.StageFailed, Command: command, Message: err.Error()})
	return &StageError{Stage: name, Command: command, Err: err}
}

// flatten joins several argvs into one, separated by "&&".
func flatten(invs []runner.Invocation) []string {
	var out []string
	for i, inv := range invs {
		if i > 0 {
			out = append(out, "&&")
		}
		out = append(out, inv.Args...)
	}
	return out
}

// lookup returns the recorded output artifacts of hash when every one is
// still on disk, at the expected path, with its recorded checksum.
func (e *Engine) lookup(ctx context.Context, hash string, outputs []string) ([]string, bool) {
	inv, err := e.opts.Ledger.GetInvocation(ctx, hash)
	if err != nil {
		if !ledger.IsNotFound(err) {
			log.Printf("[WARN] Failed to look up invocation %s: %v", hash[:12], err)
		}
		return nil, false
	}
	if len(inv.Outputs) != len(outputs) {
		return nil, false
	}

	for i, id := range inv.Outputs {
		art, err := e.opts.Ledger.GetArtifact(ctx, id)
		if err != nil || art.Path != outputs[i] {
			return nil, false
		}
		digest, _, err := fileDigest(art.Path)
		if err != nil || digest != art.SHA256 {
			return nil, false
		}
	}
	for i, id := range inv.Outputs {
		e.known[outputs[i]] = id
	}
	return inv.Outputs, true
}

// record stores an artifact per promoted output plus the invocation.
// Ledger failures are logged; the files on disk are the result of record.
func (e *Engine) record(ctx context.Context, name, hash string, command, inputs, promoted []string) []string {
	var sources []string
	for _, in := range inputs {
		if id, ok := e.known[in]; ok {
			sources = append(sources, id)
		}
	}

	ids := make([]string, 0, len(promoted))
	for _, p := range promoted {
		id := uuid.NewString()
		e.known[p] = id
		ids = append(ids, id)
		if e.opts.Ledger == nil {
			continue
		}

		digest, size, err := fileDigest(p)
		if err != nil {
			log.Printf("[WARN] Failed to hash %s: %v", p, err)
			return nil
		}
		art := &ledger.Artifact{
			ID:              id,
			RunID:           e.runID,
			Stage:           name,
			Name:            filepath.Base(p),
			Type:            artifactType(p),
			Path:            p,
			SHA256:          digest,
			Size:            size,
			SourceArtifacts: sources,
			CreatedAtMs:     time.Now().UnixMilli(),
		}
		if err := e.opts.Ledger.CreateArtifact(ctx, art); err != nil {
			log.Printf("[WARN] Failed to record artifact %s: %v", art.Name, err)
			return nil
		}
	}

	if e.opts.Ledger != nil && hash != "" {
		inv := &ledger.Invocation{
			Hash:        hash,
			Stage:       name,
			Command:     command,
			RunID:       e.runID,
			Outputs:     ids,
			CreatedAtMs: time.Now().UnixMilli(),
		}
		if err := e.opts.Ledger.PutInvocation(ctx, inv); err != nil {
			log.Printf("[WARN] Failed to record invocation for %s: %v", name, err)
		}
	}
	return ids
}

// artifactType returns the semantic type of an archive, or the file format
// for exported files.
func artifactType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".qza", ".qzv":
		if meta, err := qza.Peek(p); err == nil && meta.Type != "" {
			return meta.Type
		}
		return "Archive"
	case ".tsv":
		return "TSV"
	case ".fasta", ".fa":
		return "FASTA"
	case ".nwk":
		return "Newick"
	}
	return "Text"
}

func (e *Engine) emit(ctx context.Context, ev *ledger.StageEvent) {
	ev.RunID = e.runID
	ev.TimestampMs = time.Now().UnixMilli()
	e.logEvent(ev)
	if e.opts.OnEvent != nil {
		e.opts.OnEvent(ev)
	}
	if e.opts.Ledger == nil {
		return
	}
	// Publish even when the run was cancelled, so watchers see the end.
	if err := e.opts.Ledger.PublishStageEvent(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("[WARN] Failed to publish stage event: %v", err)
	}
}

func (e *Engine) saveRun(ctx context.Context, run *ledger.Run) {
	if e.opts.Ledger == nil {
		return
	}
	if err := e.opts.Ledger.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("[WARN] Failed to save run %s: %v", run.ID, err)
	}
}

// logEvent writes a structured JSON log line for the event.
func (e *Engine) logEvent(ev *ledger.StageEvent) {
	data := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"level":      "info",
		"component":  "pipeline",
		"event_type": "stage_" + string(ev.Status),
		"run_id":     ev.RunID,
		"stage":      ev.Stage,
	}
	if ev.Status == ledger.StageFailed {
		data["level"] = "error"
		data["message"] = ev.Message
	}
	if len(ev.Outputs) > 0 {
		data["outputs"] = ev.Outputs
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Pipeline] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}

// Describe renders a stage's commands for dry runs.
func Describe(s stage.Stage) string {
	var b strings.Builder
	for _, inv := range s.Invocations(stagingPlaceholder) {
		fmt.Fprintf(&b, "%s\n", inv.String())
	}
	return b.String()
}
