package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestArtifactValidate(t *testing.T) {
	valid := func() *Artifact { return newArtifact(uuid.New().String(), "table.qza") }

	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(a *Artifact)
		want   string
	}{
		{"bad id", func(a *Artifact) { a.ID = "nope" }, "invalid artifact ID"},
		{"bad run", func(a *Artifact) { a.RunID = "" }, "invalid run ID"},
		{"no stage", func(a *Artifact) { a.Stage = "" }, "stage cannot be empty"},
		{"no type", func(a *Artifact) { a.Type = "" }, "type cannot be empty"},
		{"no path", func(a *Artifact) { a.Path = "" }, "path cannot be empty"},
		{"uppercase digest", func(a *Artifact) { a.SHA256 = digest("x")[:63] + "A" }, "invalid sha256"},
		{"bad source", func(a *Artifact) { a.SourceArtifacts = []string{"x"} }, "invalid source artifact at index 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(a)
			err := a.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestSerializationDefaults(t *testing.T) {
	a := newArtifact(uuid.New().String(), "rooted-tree.qza")
	a.SourceArtifacts = nil

	hash, err := ArtifactToHash(a)
	assert.NoError(t, err)
	assert.Equal(t, "[]", hash["source_artifacts"])

	back, err := HashToArtifact(map[string]string{"size": "0", "id": a.ID})
	assert.NoError(t, err)
	assert.Equal(t, []string{}, back.SourceArtifacts)

	_, err = HashToArtifact(map[string]string{"size": "big"})
	assert.Error(t, err)

	_, err = HashToRun(map[string]string{"started_at_ms": ""})
	assert.Error(t, err)
}

func TestSchemaKeys(t *testing.T) {
	assert.Equal(t, "ampli:ns:artifact:abc", ArtifactKey("ns", "abc"))
	assert.Equal(t, "ampli:ns:invocation:ff", InvocationKey("ns", "ff"))
	assert.Equal(t, "ampli:ns:run:r1:artifacts", RunArtifactsKey("ns", "r1"))
	assert.Equal(t, "ampli:ns:stage_events", StageEventsChannel("ns"))
}
