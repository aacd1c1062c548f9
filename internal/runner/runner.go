// Package runner executes external bioinformatics tools, either as local
// subprocesses or inside throwaway Docker containers.
package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Tool identifies which toolchain an invocation needs. The docker runner
// uses it to pick an image.
type Tool string

const (
	ToolQiime Tool = "qiime"
	ToolBiom  Tool = "biom"
	ToolJava  Tool = "java"
)

// maxOutputSize caps the bytes kept from a tool's stdout and stderr (10MB).
const maxOutputSize = 10 * 1024 * 1024

// stderrTailSize is how much stderr a ToolError carries.
const stderrTailSize = 4096

// Invocation is one external command.
type Invocation struct {
	Stage string
	Tool  Tool
	Args  []string // argv, program first
	Dir   string   // working directory, must be absolute in docker mode
	// Mounts lists host directories the command reads or writes. Local runs
	// ignore it; containers bind-mount each at the same path.
	Mounts []string
	Env    []string
}

// String renders the command line for logs and error reports.
func (inv Invocation) String() string {
	return strings.Join(inv.Args, " ")
}

// Result captures a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes invocations. Run returns a *ToolError when the command ran
// but exited non-zero; any other error means it could not be run at all.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
	Name() string
}

// ToolError reports a tool that exited with a non-zero status.
type ToolError struct {
	Command  []string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	prog := "command"
	if len(e.Command) > 0 {
		prog = e.Command[0]
	}
	return fmt.Sprintf("%s exited with code %d", prog, e.ExitCode)
}

// Tail returns at most n trailing bytes of s, cut at a line boundary when
// one is available.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return "..." + "\n" + s
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	n, err := lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

func (lw *limitedWriter) truncated() bool {
	return lw.written >= lw.limit
}
