// Package watch streams pipeline stage events from the ledger.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/ampli/pkg/ledger"
	"github.com/fatih/color"
)

// OutputFormat selects how events are rendered.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSON:
		return OutputFormatJSON, nil
	}
	return "", fmt.Errorf("unknown format: %s", s)
}

// Options controls Stream.
type Options struct {
	Format OutputFormat
	// RunID restricts output to one run; Stream then returns once the run
	// record reaches a final state.
	RunID string
	// PollInterval is how often the run record is checked (default 500ms).
	PollInterval time.Duration
}

// Stream writes events from sub to w until ctx is cancelled, the
// subscription closes, or the watched run finishes.
func Stream(ctx context.Context, client *ledger.Client, sub *ledger.Subscription, w io.Writer, opts Options) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	var tick <-chan time.Time
	if opts.RunID != "" {
		if done, err := runFinished(ctx, client, opts.RunID); err != nil || done {
			return err
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if opts.RunID != "" && ev.RunID != opts.RunID {
				continue
			}
			if err := write(w, ev, opts.Format); err != nil {
				return err
			}

		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "⚠️  %v\n", err)

		case <-tick:
			done, err := runFinished(ctx, client, opts.RunID)
			if err != nil || done {
				// Drain anything already delivered for the run.
				drain(sub, w, opts)
				return err
			}
		}
	}
}

func drain(sub *ledger.Subscription, w io.Writer, opts Options) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.RunID == opts.RunID {
				write(w, ev, opts.Format)
			}
		default:
			return
		}
	}
}

// runFinished reports whether the run has a final status. A run that is not
// recorded yet is still pending.
func runFinished(ctx context.Context, client *ledger.Client, runID string) (bool, error) {
	run, err := client.GetRun(ctx, runID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	return run.Status != ledger.RunStatusRunning, nil
}

func write(w io.Writer, ev *ledger.StageEvent, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintln(w, FormatEvent(ev))
	return err
}

// FormatEvent renders one event as a human-readable line.
func FormatEvent(ev *ledger.StageEvent) string {
	ts := time.UnixMilli(ev.TimestampMs).Format("15:04:05")
	run := ev.RunID
	if len(run) > 8 {
		run = run[:8]
	}
	prefix := fmt.Sprintf("[%s] %s %-10s", ts, run, ev.Stage)

	switch ev.Status {
	case ledger.StageStarted:
		return fmt.Sprintf("%s ▶ started: %s", prefix, strings.Join(ev.Command, " "))
	case ledger.StageSucceeded:
		return color.GreenString("%s ✓ succeeded (%d outputs)", prefix, len(ev.Outputs))
	case ledger.StageCached:
		return color.CyanString("%s ↻ reused %d cached outputs", prefix, len(ev.Outputs))
	case ledger.StageWarning:
		return color.YellowString("%s ⚠ %s", prefix, ev.Message)
	case ledger.StageFailed:
		if ev.ExitCode != 0 {
			return color.RedString("%s ✗ failed (exit %d): %s", prefix, ev.ExitCode, ev.Message)
		}
		return color.RedString("%s ✗ failed: %s", prefix, ev.Message)
	}
	return fmt.Sprintf("%s %s", prefix, ev.Status)
}
