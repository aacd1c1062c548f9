package ledger

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Artifact is an immutable record of one file a stage produced.
type Artifact struct {
	ID              string   `json:"id"`               // UUID
	RunID           string   `json:"run_id"`           // run that produced it
	Stage           string   `json:"stage"`            // producing stage name
	Name            string   `json:"name"`             // declared output name, e.g. table.qza
	Type            string   `json:"type"`             // semantic type or exported format
	Path            string   `json:"path"`             // absolute path after promotion
	SHA256          string   `json:"sha256"`           // hex digest of the file contents
	Size            int64    `json:"size"`             // bytes
	SourceArtifacts []string `json:"source_artifacts"` // artifact IDs it was derived from
	CreatedAtMs     int64    `json:"created_at_ms"`
}

// Invocation records a completed tool call and the artifacts it produced.
type Invocation struct {
	Hash        string   `json:"hash"`    // hex sha256 over stage, argv and input digests
	Stage       string   `json:"stage"`   // stage name
	Command     []string `json:"command"` // argv as run
	RunID       string   `json:"run_id"`
	Outputs     []string `json:"outputs"` // artifact IDs, in declared order
	CreatedAtMs int64    `json:"created_at_ms"`
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Validate checks if the RunStatus is a valid enum value.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown run status: %q", s)
	}
}

// Run describes one pipeline execution.
type Run struct {
	ID           string    `json:"id"`
	Status       RunStatus `json:"status"`
	WorkDir      string    `json:"work_dir"`
	Revision     string    `json:"revision,omitempty"` // git HEAD of the project, when available
	Stages       []string  `json:"stages"`             // planned stage order
	Error        string    `json:"error,omitempty"`
	StartedAtMs  int64     `json:"started_at_ms"`
	FinishedAtMs int64     `json:"finished_at_ms,omitempty"`
}

// StageStatus is the state carried by a StageEvent.
type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageSucceeded StageStatus = "succeeded"
	StageCached    StageStatus = "cached"
	StageFailed    StageStatus = "failed"
	StageWarning   StageStatus = "warning"
)

// StageEvent is published whenever a stage changes state.
type StageEvent struct {
	RunID       string      `json:"run_id"`
	Stage       string      `json:"stage"`
	Status      StageStatus `json:"status"`
	Command     []string    `json:"command,omitempty"`
	ExitCode    int         `json:"exit_code,omitempty"`
	Message     string      `json:"message,omitempty"`
	Outputs     []string    `json:"outputs,omitempty"` // artifact IDs
	TimestampMs int64       `json:"timestamp_ms"`
}

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Validate checks if the Artifact has valid field values.
func (a *Artifact) Validate() error {
	if !isValidUUID(a.ID) {
		return fmt.Errorf("invalid artifact ID: not a valid UUID")
	}
	if !isValidUUID(a.RunID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}
	if a.Stage == "" {
		return fmt.Errorf("stage cannot be empty")
	}
	if a.Name == "" {
		return fmt.Errorf("artifact name cannot be empty")
	}
	if a.Type == "" {
		return fmt.Errorf("artifact type cannot be empty")
	}
	if a.Path == "" {
		return fmt.Errorf("artifact path cannot be empty")
	}
	if !hexDigest.MatchString(a.SHA256) {
		return fmt.Errorf("invalid sha256: %q", a.SHA256)
	}
	for i, sourceID := range a.SourceArtifacts {
		if !isValidUUID(sourceID) {
			return fmt.Errorf("invalid source artifact at index %d: not a valid UUID", i)
		}
	}
	return nil
}

// Validate checks if the Invocation has valid field values.
func (inv *Invocation) Validate() error {
	if !hexDigest.MatchString(inv.Hash) {
		return fmt.Errorf("invalid invocation hash: %q", inv.Hash)
	}
	if inv.Stage == "" {
		return fmt.Errorf("stage cannot be empty")
	}
	if len(inv.Command) == 0 {
		return fmt.Errorf("command cannot be empty")
	}
	if len(inv.Outputs) == 0 {
		return fmt.Errorf("invocation must record at least one output")
	}
	for i, id := range inv.Outputs {
		if !isValidUUID(id) {
			return fmt.Errorf("invalid output artifact at index %d: not a valid UUID", i)
		}
	}
	return nil
}

// Validate checks if the Run has valid field values.
func (r *Run) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}
	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid run status: %w", err)
	}
	if r.StartedAtMs <= 0 {
		return fmt.Errorf("started_at_ms must be set")
	}
	return nil
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
