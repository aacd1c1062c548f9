package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newArtifact(runID, name string) *Artifact {
	return &Artifact{
		ID:              uuid.New().String(),
		RunID:           runID,
		Stage:           "denoise",
		Name:            name,
		Type:            "FeatureTable[Frequency]",
		Path:            "/work/" + name,
		SHA256:          digest(name),
		Size:            1024,
		SourceArtifacts: []string{},
		CreatedAtMs:     time.Now().UnixMilli(),
	}
}

func TestNewClient(t *testing.T) {
	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})

	t.Run("from URL", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClientFromURL("redis://"+mr.Addr(), "study-a")
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, "study-a", client.Namespace())
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects malformed URL", func(t *testing.T) {
		_, err := NewClientFromURL("http://nope", "ns")
		assert.Error(t, err)
	})
}

func TestArtifactCRUD(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	runID := uuid.New().String()

	a := newArtifact(runID, "table.qza")
	require.NoError(t, client.CreateArtifact(ctx, a))

	assert.True(t, mr.Exists(ArtifactKey("test-ns", a.ID)))

	got, err := client.GetArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	exists, err := client.ArtifactExists(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	ids, err := client.RunArtifactIDs(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)

	t.Run("missing artifact", func(t *testing.T) {
		_, err := client.GetArtifact(ctx, uuid.New().String())
		assert.True(t, IsNotFound(err))
	})

	t.Run("invalid artifact rejected", func(t *testing.T) {
		bad := newArtifact(runID, "x.qza")
		bad.SHA256 = "abc"
		err := client.CreateArtifact(ctx, bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid sha256")
	})
}

func TestScanArtifactIDs(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	runID := uuid.New().String()

	a := newArtifact(runID, "a.qza")
	a.ID = "aaaaaaaa-0000-4000-8000-000000000001"
	b := newArtifact(runID, "b.qza")
	b.ID = "aaaaaaaa-0000-4000-8000-000000000002"
	c := newArtifact(runID, "c.qza")
	c.ID = "bbbbbbbb-0000-4000-8000-000000000003"
	for _, art := range []*Artifact{c, b, a} {
		require.NoError(t, client.CreateArtifact(ctx, art))
	}

	all, err := client.ScanArtifactIDs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, all)

	prefixed, err := client.ScanArtifactIDs(ctx, "aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, prefixed)
}

func TestInvocations(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	out := newArtifact(uuid.New().String(), "rep-seqs.qza")
	inv := &Invocation{
		Hash:        digest("denoise qiime dada2 denoise-paired"),
		Stage:       "denoise",
		Command:     []string{"qiime", "dada2", "denoise-paired", "--p-trunc-len-f", "240"},
		RunID:       out.RunID,
		Outputs:     []string{out.ID},
		CreatedAtMs: time.Now().UnixMilli(),
	}
	require.NoError(t, client.PutInvocation(ctx, inv))

	got, err := client.GetInvocation(ctx, inv.Hash)
	require.NoError(t, err)
	assert.Equal(t, inv, got)

	// A second record for the same hash replaces the first.
	replacement := *inv
	replacement.Outputs = []string{uuid.New().String(), uuid.New().String()}
	require.NoError(t, client.PutInvocation(ctx, &replacement))
	got, err = client.GetInvocation(ctx, inv.Hash)
	require.NoError(t, err)
	assert.Equal(t, replacement.Outputs, got.Outputs)

	require.NoError(t, client.DeleteInvocation(ctx, inv.Hash))
	_, err = client.GetInvocation(ctx, inv.Hash)
	assert.True(t, IsNotFound(err))

	t.Run("invalid invocation rejected", func(t *testing.T) {
		err := client.PutInvocation(ctx, &Invocation{Hash: inv.Hash, Stage: "denoise", Command: []string{"qiime"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one output")
	})
}

func TestRuns(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	older := &Run{ID: uuid.New().String(), Status: RunStatusSucceeded, WorkDir: "/w", Stages: []string{"import"}, StartedAtMs: 1000, FinishedAtMs: 2000}
	newer := &Run{ID: uuid.New().String(), Status: RunStatusRunning, WorkDir: "/w", Revision: "abc123", StartedAtMs: 3000}
	require.NoError(t, client.SaveRun(ctx, older))
	require.NoError(t, client.SaveRun(ctx, newer))
	// Run artifact sets share the key prefix and must not be listed as runs.
	require.NoError(t, client.CreateArtifact(ctx, newArtifact(newer.ID, "demux.qza")))

	runs, err := client.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, "abc123", runs[0].Revision)
	assert.Equal(t, older.ID, runs[1].ID)

	newer.Status = RunStatusFailed
	newer.Error = "denoise: qiime exited with code 1"
	newer.FinishedAtMs = 4000
	require.NoError(t, client.SaveRun(ctx, newer))
	got, err := client.GetRun(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, int64(4000), got.FinishedAtMs)

	_, err = client.GetRun(ctx, uuid.New().String())
	assert.True(t, IsNotFound(err))

	err = client.SaveRun(ctx, &Run{ID: uuid.New().String(), Status: "paused", StartedAtMs: 1})
	assert.Error(t, err)
}

func TestSubscribeStageEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("receives published events", func(t *testing.T) {
		sub, err := client.SubscribeStageEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		ev := &StageEvent{RunID: uuid.New().String(), Stage: "phylogeny", Status: StageStarted, Command: []string{"qiime", "phylogeny"}, TimestampMs: 42}
		require.NoError(t, client.PublishStageEvent(ctx, ev))

		select {
		case received := <-sub.Events():
			assert.Equal(t, ev, received)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("malformed payload goes to the error channel", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
		require.NoError(t, err)
		defer c.Close()

		sub, err := c.SubscribeStageEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		mr.Publish(StageEventsChannel("test-ns"), "{not json")

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to unmarshal stage event")
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for error")
		}
	})

	t.Run("cleanup on context cancellation", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		sub, err := client.SubscribeStageEvents(cancelCtx)
		require.NoError(t, err)

		cancel()

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok, "channel should be closed")
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for channel close")
		}
		assert.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())
	})
}

func TestNamespacing(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewClient(&redis.Options{Addr: mr.Addr()}, "study-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewClient(&redis.Options{Addr: mr.Addr()}, "study-b")
	require.NoError(t, err)
	defer b.Close()

	art := newArtifact(uuid.New().String(), "table.qza")
	require.NoError(t, a.CreateArtifact(ctx, art))

	_, err = b.GetArtifact(ctx, art.ID)
	assert.True(t, IsNotFound(err))

	ids, err := b.ScanArtifactIDs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
