package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Local runs tools as subprocesses of ampli.
type Local struct {
	// Timeout kills a tool that runs longer; zero means no limit.
	Timeout time.Duration
	// Echo, when set, also receives the tool's output as it is produced.
	Echo io.Writer
}

// NewLocal returns a subprocess runner.
func NewLocal(timeout time.Duration, echo io.Writer) *Local {
	return &Local{Timeout: timeout, Echo: echo}
}

func (l *Local) Name() string { return "local" }

// Run executes inv and waits for it to finish. The process is killed when
// ctx is cancelled.
func (l *Local) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("command array is empty")
	}
	if _, err := exec.LookPath(inv.Args[0]); err != nil {
		return nil, fmt.Errorf("tool %q not found: %w", inv.Args[0], err)
	}

	execCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.WaitDelay = 10 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	stdout := &limitedWriter{w: &stdoutBuf, limit: maxOutputSize}
	stderr := &limitedWriter{w: &stderrBuf, limit: maxOutputSize}
	if l.Echo != nil {
		cmd.Stdout = io.MultiWriter(stdout, l.Echo)
		cmd.Stderr = io.MultiWriter(stderr, l.Echo)
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	log.Printf("[INFO] Executing tool: stage=%s command=%s", inv.Stage, inv)
	start := time.Now()
	err := cmd.Run()
	res := &Result{
		ExitCode: 0,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}
	if stdout.truncated() || stderr.truncated() {
		log.Printf("[WARN] Tool output exceeded %d bytes and was truncated: stage=%s", maxOutputSize, inv.Stage)
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			res.ExitCode = -1
			return res, fmt.Errorf("tool execution timeout (%s): %s", l.Timeout, inv)
		case ctx.Err() != nil:
			res.ExitCode = -1
			return res, fmt.Errorf("tool execution cancelled: %w", ctx.Err())
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			log.Printf("[ERROR] Tool failed: stage=%s exit_code=%d duration=%s", inv.Stage, res.ExitCode, res.Duration)
			return res, &ToolError{Command: inv.Args, ExitCode: res.ExitCode, Stderr: Tail(res.Stderr, stderrTailSize)}
		default:
			res.ExitCode = -1
			return res, fmt.Errorf("failed to run %s: %w", inv.Args[0], err)
		}
	}

	log.Printf("[INFO] Tool completed: stage=%s duration=%s", inv.Stage, res.Duration.Round(time.Millisecond))
	return res, nil
}
