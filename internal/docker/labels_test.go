package docker

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBuildLabels(t *testing.T) {
	labels := BuildLabels("run-123", "denoise", "/home/user/study/ampli-work")

	assert.Equal(t, "true", labels[LabelProject])
	assert.Equal(t, "run-123", labels[LabelRunID])
	assert.Equal(t, "denoise", labels[LabelStage])
	assert.Equal(t, "/home/user/study/ampli-work", labels[LabelWorkDir])
	assert.Len(t, labels, 4)
}

func TestBuildLabels_NoStage(t *testing.T) {
	labels := BuildLabels("run-456", "", "/work")

	assert.NotContains(t, labels, LabelStage)
	assert.Len(t, labels, 3)
}

func TestProjectFilter(t *testing.T) {
	f := ProjectFilter("")
	assert.Equal(t, []string{"ampli.project=true"}, f.Get("label"))

	f = ProjectFilter("abc")
	assert.ElementsMatch(t, []string{"ampli.project=true", "ampli.run_id=abc"}, f.Get("label"))
}

func TestGenerateRunID(t *testing.T) {
	runID1 := GenerateRunID()
	runID2 := GenerateRunID()

	_, err1 := uuid.Parse(runID1)
	assert.NoError(t, err1)
	_, err2 := uuid.Parse(runID2)
	assert.NoError(t, err2)

	assert.NotEqual(t, runID1, runID2)
}

func TestContainerName(t *testing.T) {
	runID := "0f8fad5b-d9cb-469f-a165-70867728950e"

	name := ContainerName(runID, "Demux Summarize")
	assert.True(t, strings.HasPrefix(name, "ampli-demux-summarize-0f8fad5b-"), name)
	assert.NotEqual(t, name, ContainerName(runID, "Demux Summarize"))
}
