package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/config"
	"github.com/entrolution/causalmem/internal/persistence/databases"
	"github.com/stretchr/testify/require"
)

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	require.NoError(t, store.Put(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0}}))

	idx := New(store)
	require.NoError(t, idx.Load(ctx))
	require.NoError(t, idx.Load(ctx))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestInsertWritesThroughToStore(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	idx := New(store)
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0}}))

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok, "insert must persist through to the backing store")
}

func TestSearchReturnsKNearestAscending(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	idx := New(store)
	require.NoError(t, idx.InsertBatch(ctx, []types.VectorRecord{
		{ChunkID: "same", Embedding: []float32{1, 0}},
		{ChunkID: "orthogonal", Embedding: []float32{0, 1}},
		{ChunkID: "opposite", Embedding: []float32{-1, 0}},
	}))

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "same", results[0].ChunkID)
	require.Less(t, results[0].Distance, results[1].Distance)
}

func TestSearchTouchesLastAccessed(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	idx := New(store)
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0}}))

	before, _, _ := idx.Get(ctx, "a")
	require.True(t, before.LastAccessed.IsZero())

	_, err := idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)

	after, _, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, after.LastAccessed.IsZero())
}

func TestSearchWithinIDsRestrictsCandidates(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	idx := New(store)
	require.NoError(t, idx.InsertBatch(ctx, []types.VectorRecord{
		{ChunkID: "a", Embedding: []float32{1, 0}},
		{ChunkID: "b", Embedding: []float32{0, 1}},
		{ChunkID: "c", Embedding: []float32{1, 0}},
	}))

	results, err := idx.SearchWithinIDs(ctx, []float32{1, 0}, []string{"b", "c"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotEqual(t, "a", r.ChunkID)
	}
}

func TestSearchByProjectUsesChunkProjectIndex(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	idx := New(store)
	require.NoError(t, idx.InsertBatch(ctx, []types.VectorRecord{
		{ChunkID: "a", Embedding: []float32{1, 0}},
		{ChunkID: "b", Embedding: []float32{1, 0}},
	}))
	idx.SetProject("a", "/proj-1")
	idx.SetProject("b", "/proj-2")

	results, err := idx.SearchByProject(ctx, []float32{1, 0}, []string{"/proj-1"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a", results[0].ChunkID)
}

func TestDeleteRemovesFromStoreAndIndex(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	idx := New(store)
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0}}))
	require.NoError(t, idx.Delete(ctx, "a"))

	has, err := idx.Has(ctx, "a")
	require.NoError(t, err)
	require.False(t, has)

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkOrphanedUpdatesIndexInPlace(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	idx := New(store)
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0}}))
	at := time.Now()
	require.NoError(t, idx.MarkOrphaned(ctx, []string{"a"}, at))

	rec, ok, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.IsOrphaned())
}

func TestExpiredChunkIDsRequiresBothOrphanedAndStale(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryVectorRowStore()
	idx := New(store)
	now := time.Now()

	stale := now.AddDate(0, 0, -40)
	require.NoError(t, store.Put(ctx, types.VectorRecord{ChunkID: "stale-orphan", Embedding: []float32{1, 0}, OrphanedAt: &stale, LastAccessed: stale}))
	require.NoError(t, store.Put(ctx, types.VectorRecord{ChunkID: "fresh-orphan", Embedding: []float32{1, 0}, OrphanedAt: &now, LastAccessed: now}))
	require.NoError(t, store.Put(ctx, types.VectorRecord{ChunkID: "stale-not-orphaned", Embedding: []float32{1, 0}, LastAccessed: stale}))

	expired, err := idx.ExpiredChunkIDs(ctx, 30, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"stale-orphan"}, expired)
}

func TestCleanupExpiredDeletesChunksAndEmptiesClusters(t *testing.T) {
	ctx := context.Background()
	// The memory manager wires the chunk store's delete cascade, which drops
	// cluster memberships before CleanupExpired checks for empty clusters.
	mgr, err := databases.NewManager(ctx, config.StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	vectors := mgr.Vectors
	clusters := mgr.Clusters
	chunks := mgr.Chunks
	idx := New(vectors)

	base := time.Now()
	chunk := types.Chunk{ID: "a", Content: "x", ApproxTokens: 1, SessionID: "s", SessionSlug: "slug", TurnIndices: []int{0}, StartTime: base, EndTime: base, CreatedAt: base}
	require.NoError(t, chunks.Insert(ctx, chunk))
	_, err = clusters.UpsertCluster(ctx, types.Cluster{ID: "cl1", Name: "only-member-is-a"})
	require.NoError(t, err)
	require.NoError(t, clusters.AssignChunksToClusters(ctx, []types.ClusterMember{{ChunkID: "a", ClusterID: "cl1"}}))

	stale := base.AddDate(0, 0, -40)
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0}, OrphanedAt: &stale, LastAccessed: stale}))

	deleted, err := idx.CleanupExpired(ctx, 30, chunks, clusters)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, deleted)

	_, ok, err := chunks.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok, "expired chunk should be deleted")

	all, err := clusters.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all, "cluster left with no members should have been removed by CleanupExpired")
}
