package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes.
// Array fields are JSON-encoded into single hash fields.

// ArtifactToHash converts an Artifact to a Redis hash.
func ArtifactToHash(a *Artifact) (map[string]interface{}, error) {
	sources := a.SourceArtifacts
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal source artifacts: %w", err)
	}

	return map[string]interface{}{
		"id":               a.ID,
		"run_id":           a.RunID,
		"stage":            a.Stage,
		"name":             a.Name,
		"type":             a.Type,
		"path":             a.Path,
		"sha256":           a.SHA256,
		"size":             a.Size,
		"source_artifacts": string(sourcesJSON),
		"created_at_ms":    a.CreatedAtMs,
	}, nil
}

// HashToArtifact converts a Redis hash to an Artifact.
func HashToArtifact(hash map[string]string) (*Artifact, error) {
	size, err := strconv.ParseInt(hash["size"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid size field: %w", err)
	}

	var sources []string
	if raw := hash["source_artifacts"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source_artifacts: %w", err)
		}
	}
	if sources == nil {
		sources = []string{}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &Artifact{
		ID:              hash["id"],
		RunID:           hash["run_id"],
		Stage:           hash["stage"],
		Name:            hash["name"],
		Type:            hash["type"],
		Path:            hash["path"],
		SHA256:          hash["sha256"],
		Size:            size,
		SourceArtifacts: sources,
		CreatedAtMs:     createdAtMs,
	}, nil
}

// InvocationToHash converts an Invocation to a Redis hash.
func InvocationToHash(inv *Invocation) (map[string]interface{}, error) {
	commandJSON, err := json.Marshal(inv.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	outputsJSON, err := json.Marshal(inv.Outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outputs: %w", err)
	}

	return map[string]interface{}{
		"hash":          inv.Hash,
		"stage":         inv.Stage,
		"command":       string(commandJSON),
		"run_id":        inv.RunID,
		"outputs":       string(outputsJSON),
		"created_at_ms": inv.CreatedAtMs,
	}, nil
}

// HashToInvocation converts a Redis hash to an Invocation.
func HashToInvocation(hash map[string]string) (*Invocation, error) {
	inv := &Invocation{
		Hash:  hash["hash"],
		Stage: hash["stage"],
		RunID: hash["run_id"],
	}
	if err := json.Unmarshal([]byte(hash["command"]), &inv.Command); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if err := json.Unmarshal([]byte(hash["outputs"]), &inv.Outputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outputs: %w", err)
	}
	inv.CreatedAtMs, _ = strconv.ParseInt(hash["created_at_ms"], 10, 64)
	return inv, nil
}

// RunToHash converts a Run to a Redis hash.
func RunToHash(r *Run) (map[string]interface{}, error) {
	stages := r.Stages
	if stages == nil {
		stages = []string{}
	}
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stages: %w", err)
	}

	return map[string]interface{}{
		"id":             r.ID,
		"status":         string(r.Status),
		"work_dir":       r.WorkDir,
		"revision":       r.Revision,
		"stages":         string(stagesJSON),
		"error":          r.Error,
		"started_at_ms":  r.StartedAtMs,
		"finished_at_ms": r.FinishedAtMs,
	}, nil
}

// HashToRun converts a Redis hash to a Run.
func HashToRun(hash map[string]string) (*Run, error) {
	startedAtMs, err := strconv.ParseInt(hash["started_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at_ms field: %w", err)
	}
	finishedAtMs, _ := strconv.ParseInt(hash["finished_at_ms"], 10, 64)

	var stages []string
	if raw := hash["stages"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &stages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
		}
	}

	return &Run{
		ID:           hash["id"],
		Status:       RunStatus(hash["status"]),
		WorkDir:      hash["work_dir"],
		Revision:     hash["revision"],
		Stages:       stages,
		Error:        hash["error"],
		StartedAtMs:  startedAtMs,
		FinishedAtMs: finishedAtMs,
	}, nil
}
