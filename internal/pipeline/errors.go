package pipeline

import (
	"fmt"
	"strings"
)

// StageError reports a stage that ran but failed: a tool exited non-zero, or
// its outputs were missing or did not verify.
type StageError struct {
	Stage    string
	Command  []string
	ExitCode int
	Stderr   string // tail of the tool's stderr
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// CommandLine renders the failed command for display.
func (e *StageError) CommandLine() string {
	return strings.Join(e.Command, " ")
}
