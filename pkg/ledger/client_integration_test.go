//go:build integration

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/dyluth/ampli/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLedger_RealRedis exercises the client against a real Redis server,
// covering SCAN cursors and pub/sub beyond what miniredis emulates.
func TestLedger_RealRedis(t *testing.T) {
	url := testutil.StartRedisContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClientFromURL(url, "integration")
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Ping(ctx))

	runID := uuid.New().String()
	var ids []string
	for i := 0; i < 250; i++ {
		a := newArtifact(runID, "table.qza")
		require.NoError(t, client.CreateArtifact(ctx, a))
		ids = append(ids, a.ID)
	}

	scanned, err := client.ScanArtifactIDs(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, scanned)

	sub, err := client.SubscribeStageEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.PublishStageEvent(ctx, &StageEvent{RunID: runID, Stage: "export", Status: StageSucceeded, TimestampMs: 1}))
	select {
	case ev := <-sub.Events():
		assert.Equal(t, "export", ev.Stage)
	case <-ctx.Done():
		t.Fatal("timeout waiting for stage event")
	}
}
