package docker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/docker/api/types/filters"
	"github.com/google/uuid"
)

// Label keys used for ampli stage containers
const (
	LabelProject = "ampli.project"
	LabelRunID   = "ampli.run_id"
	LabelStage   = "ampli.stage"
	LabelWorkDir = "ampli.work_dir"
)

// BuildLabels creates the label set for a stage container.
// Stage may be empty for containers not tied to a pipeline stage.
func BuildLabels(runID, stage, workDir string) map[string]string {
	labels := map[string]string{
		LabelProject: "true",
		LabelRunID:   runID,
		LabelWorkDir: workDir,
	}
	if stage != "" {
		labels[LabelStage] = stage
	}
	return labels
}

// ProjectFilter matches every container ampli created, optionally narrowed
// to one run.
func ProjectFilter(runID string) filters.Args {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=true", LabelProject))
	if runID != "" {
		f.Add("label", fmt.Sprintf("%s=%s", LabelRunID, runID))
	}
	return f
}

// GenerateRunID creates a new UUID for a pipeline run.
func GenerateRunID() string {
	return uuid.New().String()
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// ContainerName returns a unique container name for one stage invocation.
func ContainerName(runID, stage string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	stage = unsafeNameChars.ReplaceAllString(strings.ToLower(stage), "-")
	return fmt.Sprintf("ampli-%s-%s-%s", stage, short, uuid.New().String()[:8])
}
