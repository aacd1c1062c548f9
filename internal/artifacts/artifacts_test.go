package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/ampli/internal/testutil"
	"github.com/dyluth/ampli/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runID = "4f9c2b1e-8d3a-4c5b-9e7f-0a1b2c3d4e5f"

var digest = strings.Repeat("ab", 32)

func setupClient(t *testing.T) *ledger.Client {
	t.Helper()
	_, url := testutil.StartMiniredis(t)
	client, err := ledger.NewClientFromURL(url, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func seed(t *testing.T, client *ledger.Client, id, stage, name, typ string, createdAt int64, sources ...string) *ledger.Artifact {
	t.Helper()
	a := &ledger.Artifact{
		ID:              id,
		RunID:           runID,
		Stage:           stage,
		Name:            name,
		Type:            typ,
		Path:            "/work/" + name,
		SHA256:          digest,
		Size:            2048,
		SourceArtifacts: sources,
		CreatedAtMs:     createdAt,
	}
	require.NoError(t, client.CreateArtifact(context.Background(), a))
	return a
}

func TestCriteria_Matches(t *testing.T) {
	a := &ledger.Artifact{Stage: "phylogeny", Type: "Phylogeny[Rooted]", RunID: runID, CreatedAtMs: 1000}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"empty", Criteria{}, true},
		{"exact bracketed type", Criteria{TypeGlob: "Phylogeny[Rooted]"}, true},
		{"type glob", Criteria{TypeGlob: "Phylogeny*"}, true},
		{"type mismatch", Criteria{TypeGlob: "FeatureTable*"}, false},
		{"stage", Criteria{Stage: "phylogeny"}, true},
		{"other stage", Criteria{Stage: "denoise"}, false},
		{"since before", Criteria{SinceTimestampMs: 500}, true},
		{"since after", Criteria{SinceTimestampMs: 1500}, false},
		{"until after", Criteria{UntilTimestampMs: 1500}, true},
		{"until before", Criteria{UntilTimestampMs: 500}, false},
		{"other run", Criteria{RunID: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(a))
		})
	}
	assert.False(t, (&Criteria{}).HasFilters())
	assert.True(t, (&Criteria{Stage: "x"}).HasFilters())
}

func TestParseRange(t *testing.T) {
	since, until, err := ParseRange("2h", "1h")
	require.NoError(t, err)
	assert.Less(t, since, until)

	_, _, err = ParseRange("1h", "2h")
	assert.ErrorContains(t, err, "--since must be before --until")

	_, _, err = ParseRange("yesterday", "")
	assert.ErrorContains(t, err, "invalid --since")

	ts, err := ParseTime("2025-10-29T13:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC).UnixMilli(), ts)
}

func TestResolve(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	seed(t, client, "aaaaaaaa-1111-4111-8111-111111111111", "import", "paired-end-demux.qza", "SampleData[PairedEndSequencesWithQuality]", 1)
	seed(t, client, "aaaaaaaa-2222-4222-8222-222222222222", "denoise", "table.qza", "FeatureTable[Frequency]", 2)
	seed(t, client, "bbbbbbbb-3333-4333-8333-333333333333", "denoise", "rep-seqs.qza", "FeatureData[Sequence]", 3)

	id, err := Resolve(ctx, client, "bbbbbb")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbbb-3333-4333-8333-333333333333", id)

	id, err = Resolve(ctx, client, "aaaaaaaa-2222")
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaa-2222-4222-8222-222222222222", id)

	_, err = Resolve(ctx, client, "aaaaaa")
	var ambiguous *AmbiguousError
	require.True(t, errors.As(err, &ambiguous))
	assert.Len(t, ambiguous.Matches, 2)

	_, err = Resolve(ctx, client, "cccccc")
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))

	_, err = Resolve(ctx, client, "cccccccc-3333-4333-8333-333333333333")
	require.True(t, errors.As(err, &notFound))

	_, err = Resolve(ctx, client, "aaa")
	assert.ErrorContains(t, err, "at least 6 characters")

	_, err = Resolve(ctx, client, "aaaa*a")
	require.True(t, errors.As(err, &notFound))
}

func TestAmbiguousError_Candidates(t *testing.T) {
	var matches []string
	for i := 0; i < 12; i++ {
		matches = append(matches, strings.Repeat(string(rune('a'+i)), 8))
	}
	c := (&AmbiguousError{Matches: matches}).Candidates()
	assert.Len(t, c, 11)
	assert.Equal(t, "...and 2 more", c[10])
}

func TestListAndLineage(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	demux := seed(t, client, "aaaaaaaa-1111-4111-8111-111111111111", "import", "paired-end-demux.qza", "SampleData[PairedEndSequencesWithQuality]", 10)
	reps := seed(t, client, "bbbbbbbb-3333-4333-8333-333333333333", "denoise", "rep-seqs.qza", "FeatureData[Sequence]", 20, demux.ID)
	tree := seed(t, client, "cccccccc-4444-4444-8444-444444444444", "phylogeny", "rooted-tree.qza", "Phylogeny[Rooted]", 30, reps.ID)

	all, err := List(ctx, client, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, demux.ID, all[0].ID)
	assert.Equal(t, tree.ID, all[2].ID)

	filtered, err := List(ctx, client, &Criteria{Stage: "denoise"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, reps.ID, filtered[0].ID)

	byRun, err := List(ctx, client, &Criteria{RunID: runID, TypeGlob: "Phylogeny*"})
	require.NoError(t, err)
	require.Len(t, byRun, 1)

	got, err := Get(ctx, client, "cccccc")
	require.NoError(t, err)
	lineage, err := Lineage(ctx, client, got)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, reps.ID, lineage[0].ID)
	assert.Equal(t, demux.ID, lineage[1].ID)
}

func TestFormat(t *testing.T) {
	a := &ledger.Artifact{
		ID: "aaaaaaaa-1111-4111-8111-111111111111", RunID: runID, Stage: "denoise",
		Name: "table.qza", Type: "FeatureTable[Frequency]", Path: "/work/table.qza",
		SHA256: digest, Size: 1536, CreatedAtMs: time.Now().Add(-2 * time.Minute).UnixMilli(),
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []*ledger.Artifact{a}, OutputFormatDefault, "test"))
	out := buf.String()
	assert.Contains(t, out, "aaaaaaaa")
	assert.NotContains(t, out, "aaaaaaaa-1111")
	assert.Contains(t, out, "table.qza")
	assert.Contains(t, out, "1.5 KiB")
	assert.Contains(t, out, "2m ago")
	assert.Contains(t, out, "1 artifact found")

	buf.Reset()
	require.NoError(t, Write(&buf, nil, OutputFormatDefault, "test"))
	assert.Equal(t, "No artifacts found in namespace 'test'\n", buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, []*ledger.Artifact{a, a}, OutputFormatJSONL, "test"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var decoded ledger.Artifact
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, *a, decoded)

	assert.Error(t, Write(&buf, nil, "xml", "test"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.0 KiB", formatSize(1024))
	assert.Equal(t, "3.0 MiB", formatSize(3*1024*1024))
}
