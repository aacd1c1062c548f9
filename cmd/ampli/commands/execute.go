package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	dockerpkg "github.com/dyluth/ampli/internal/docker"
	"github.com/dyluth/ampli/internal/manifest"
	"github.com/dyluth/ampli/internal/pipeline"
	"github.com/dyluth/ampli/internal/printer"
	"github.com/dyluth/ampli/internal/runner"
	"github.com/dyluth/ampli/internal/stage"
	"github.com/dyluth/ampli/internal/workspace"
	"github.com/dyluth/ampli/pkg/ledger"
)

// execOptions controls one engine run from the CLI.
type execOptions struct {
	noCache bool
	dryRun  bool
}

// execute runs stages through the engine, printing progress as they go.
func (p *project) execute(ctx context.Context, stages []stage.Stage, opts execOptions) error {
	if opts.dryRun {
		return dryRun(stages)
	}

	if err := p.connectLedger(ctx, false); err != nil {
		return err
	}
	defer p.close()

	runID := dockerpkg.GenerateRunID()
	r, closeRunner, err := runnerFactory(p, ctx, runID)
	if err != nil {
		return err
	}
	defer closeRunner()

	engine := pipeline.NewEngine(pipeline.Options{
		Runner:    r,
		Workspace: p.ws,
		Ledger:    p.ledger,
		NoCache:   opts.noCache,
		Revision:  p.revision(),
		OnEvent:   progress,
		RunID:     runID,
	})

	printer.Info("Run %s in %s (runner: %s)\n", runID[:8], p.ws.Root, r.Name())
	results, err := engine.Run(ctx, stages)
	if err != nil {
		return reportError(err)
	}

	var total time.Duration
	warnings := 0
	for _, res := range results {
		total += res.Duration
		if res.Warning != nil {
			warnings++
		}
	}
	printer.Println()
	if warnings > 0 {
		printer.Success("%d stage(s) completed in %s with %d warning(s)\n", len(results), total.Round(time.Second), warnings)
	} else {
		printer.Success("%d stage(s) completed in %s\n", len(results), total.Round(time.Second))
	}
	return nil
}

// runnerFactory builds the runner for a run; tests substitute a fake.
var runnerFactory = (*project).newRunner

// newRunner builds the runner selected by runner.mode.
func (p *project) newRunner(ctx context.Context, runID string) (runner.Runner, func(), error) {
	var echo io.Writer
	if verbose {
		echo = os.Stderr
	}
	timeout := p.cfg.Runner.TimeoutDuration()

	if p.cfg.Runner.Mode != "docker" {
		return runner.NewLocal(timeout, echo), func() {}, nil
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return nil, nil, fail("Docker not available", err.Error(), nil)
	}
	d := runner.NewDocker(cli, runner.DockerOptions{
		QiimeImage:      p.cfg.Runner.Image,
		ClassifierImage: p.cfg.Runner.ClassifierImage,
		RunID:           runID,
		WorkDir:         p.ws.Root,
		Timeout:         timeout,
		Echo:            echo,
	})
	return d, func() { cli.Close() }, nil
}

// progress prints one line per stage event.
func progress(ev *ledger.StageEvent) {
	switch ev.Status {
	case ledger.StageStarted:
		printer.Step("%s\n", ev.Stage)
		printer.Detail("%s\n", strings.Join(ev.Command, " "))
	case ledger.StageSucceeded:
		printer.Success("%s\n", ev.Stage)
	case ledger.StageCached:
		printer.Success("%s (reused %d cached output(s))\n", ev.Stage, len(ev.Outputs))
	case ledger.StageWarning:
		printer.Warning("%s failed but is optional: %s\n", ev.Stage, ev.Message)
	}
}

func dryRun(stages []stage.Stage) error {
	for _, s := range stages {
		printer.Step("%s\n", s.Name())
		for _, line := range strings.Split(strings.TrimRight(pipeline.Describe(s), "\n"), "\n") {
			printer.Detail("%s\n", line)
		}
	}
	return nil
}

// reportError prints a pipeline failure with its context and picks the exit
// code: tool failures exit 2, everything detected before a tool ran exits 1.
func reportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return withCode(ExitCancelled, printer.Error("run cancelled", "The running tool was stopped; no outputs were promoted.", nil))
	}

	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		fields := []printer.Field{
			{Key: "Stage", Value: stageErr.Stage},
			{Key: "Command", Value: stageErr.CommandLine()},
		}
		if stageErr.ExitCode != 0 {
			fields = append(fields, printer.Field{Key: "Exit code", Value: fmt.Sprintf("%d", stageErr.ExitCode)})
		}
		explanation := stageErr.Err.Error()
		if stageErr.Stderr != "" {
			explanation = fmt.Sprintf("%s\n\n%s", explanation, runner.Tail(stageErr.Stderr, 2048))
		}
		return withCode(ExitTool, printer.ErrorWithContext(
			fmt.Sprintf("stage %s failed", stageErr.Stage),
			explanation,
			fields,
			[]string{"Re-run with --verbose to see the full tool output"},
		))
	}

	var lockErr *workspace.LockedError
	if errors.As(err, &lockErr) {
		return withCode(ExitInput, printer.ErrorWithContext(
			"work directory is locked",
			"Another ampli run is using this work directory.",
			[]printer.Field{
				{Key: "Lock", Value: lockErr.Path},
				{Key: "Run", Value: lockErr.RunID},
				{Key: "PID", Value: fmt.Sprintf("%d", lockErr.PID)},
			},
			[]string{"Wait for it to finish, or if it was killed remove the stale lock:\n  ampli unlock"},
		))
	}

	var inputErr *stage.InputError
	if errors.As(err, &inputErr) {
		var suggestions []string
		var parseErr *manifest.ParseError
		if errors.As(err, &parseErr) {
			suggestions = append(suggestions, "Check the manifest:\n  ampli manifest validate")
		}
		return withCode(ExitInput, printer.ErrorWithContext(
			fmt.Sprintf("invalid input for stage %s", inputErr.Stage),
			inputErr.Err.Error(),
			[]printer.Field{{Key: "Stage", Value: inputErr.Stage}},
			suggestions,
		))
	}

	var parseErr *manifest.ParseError
	if errors.As(err, &parseErr) {
		return fail("invalid manifest", parseErr.Error(), nil)
	}

	return fail("run failed", err.Error(), nil)
}
