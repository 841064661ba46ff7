package databases

import (
	"context"
	"testing"
	"time"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/stretchr/testify/require"
)

func newTestChunk(id, sessionID string, start time.Time) types.Chunk {
	return types.Chunk{
		ID:           id,
		Content:      "hello",
		ApproxTokens: 10,
		SessionID:    sessionID,
		SessionSlug:  "slug-" + sessionID,
		TurnIndices:  []int{0, 1},
		StartTime:    start,
		EndTime:      start.Add(time.Minute),
		ProjectPath:  "/proj",
		CreatedAt:    start,
	}
}

func TestMemoryChunkStoreInsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChunkStore(nil)
	c := newTestChunk("c1", "s1", time.Now())
	require.NoError(t, store.Insert(ctx, c))

	got, ok, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", got.Content)
}

func TestMemoryChunkStoreRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChunkStore(nil)
	bad := newTestChunk("c2", "s1", time.Now())
	bad.TurnIndices = nil
	err := store.Insert(ctx, bad)
	require.Error(t, err)
	require.True(t, causalerr.Is(err, causalerr.KindValidation))
}

func TestMemoryChunkStoreByTimeRangeHalfOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChunkStore(nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Insert(ctx, newTestChunk("a", "s", base)))
	require.NoError(t, store.Insert(ctx, newTestChunk("b", "s", base.Add(time.Hour))))
	require.NoError(t, store.Insert(ctx, newTestChunk("c", "s", base.Add(2*time.Hour))))

	got, err := store.GetByTimeRange(ctx, "/proj", base, base.Add(2*time.Hour), "", 0)
	require.NoError(t, err)
	require.Len(t, got, 2) // "c" starts exactly at the upper bound, excluded
}

func TestMemoryChunkDeleteCascadesEdgesAndOrphansVector(t *testing.T) {
	ctx := context.Background()
	edges := NewMemoryEdgeStore()
	vectors := NewMemoryVectorRowStore()
	clusters := NewMemoryClusterStore()
	chunks := NewMemoryChunkStore(memoryChunkCascade(edges, vectors, clusters))

	base := time.Now()
	require.NoError(t, chunks.Insert(ctx, newTestChunk("a", "s", base)))
	require.NoError(t, chunks.Insert(ctx, newTestChunk("b", "s", base.Add(time.Minute))))
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "a", TargetChunkID: "b", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)
	require.NoError(t, vectors.Put(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0}}))
	require.NoError(t, vectors.Put(ctx, types.VectorRecord{ChunkID: "b", Embedding: []float32{0, 1}}))

	require.NoError(t, chunks.Delete(ctx, "a"))

	all, err := edges.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	rec, ok, err := vectors.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.IsOrphaned(), "b's only edge was removed, its vector should be orphaned")
}

func TestMemoryEdgeStoreUpsertIncrementsLinkCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()
	e := types.Edge{SourceChunkID: "x", TargetChunkID: "y", Direction: types.DirectionBackward, InitialWeight: 0.5}
	first, err := store.Upsert(ctx, e)
	require.NoError(t, err)
	require.Equal(t, 1, first.LinkCount)

	second, err := store.Upsert(ctx, e)
	require.NoError(t, err)
	require.Equal(t, 2, second.LinkCount)
	require.Equal(t, first.ID, second.ID)
}

func TestMemoryClusterStoreUpsertPreservesUnspecifiedFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryClusterStore()
	_, err := store.UpsertCluster(ctx, types.Cluster{ID: "cl1", Name: "first", Description: "desc"})
	require.NoError(t, err)

	updated, err := store.UpsertCluster(ctx, types.Cluster{ID: "cl1", Name: "renamed"})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, "desc", updated.Description, "unspecified description should be preserved")
}

func TestMemoryClusterStoreDeleteIfEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryClusterStore()
	_, err := store.UpsertCluster(ctx, types.Cluster{ID: "cl1"})
	require.NoError(t, err)

	deleted, err := store.DeleteIfEmpty(ctx, "cl1")
	require.NoError(t, err)
	require.True(t, deleted)

	require.NoError(t, store.AssignChunksToClusters(ctx, []types.ClusterMember{{ChunkID: "x", ClusterID: "cl2"}}))
	deleted, err = store.DeleteIfEmpty(ctx, "cl2")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestMemoryClockStoreRefresh(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryClockStore()
	require.NoError(t, store.UpdateAgentClock(ctx, "proj", "agent-a", types.VectorClock{"agent-a": 3}))
	require.NoError(t, store.UpdateAgentClock(ctx, "proj", "agent-b", types.VectorClock{"agent-b": 5}))

	merged, err := RefreshReferenceClock(ctx, store, "proj")
	require.NoError(t, err)
	require.Equal(t, int64(3), merged["agent-a"])
	require.Equal(t, int64(5), merged["agent-b"])

	ref, err := store.GetReferenceClock(ctx, "proj")
	require.NoError(t, err)
	require.Equal(t, merged, ref)
}
