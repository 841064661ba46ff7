package chain

import (
	"context"
	"testing"

	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/persistence/databases"
	"github.com/stretchr/testify/require"
)

func newChunk(id string, tokens int) types.Chunk {
	return types.Chunk{ID: id, Content: id, ApproxTokens: tokens, TurnIndices: []int{0}}
}

func uniformScore(v float64) LocalScorer {
	return func(context.Context, string) (float64, error) { return v, nil }
}

func setup(t *testing.T) (databases.EdgeStore, databases.ChunkStore) {
	t.Helper()
	edges := databases.NewMemoryEdgeStore()
	chunks := databases.NewMemoryChunkStore(nil)
	return edges, chunks
}

func TestWalkFollowsBestSuccessorChain(t *testing.T) {
	ctx := context.Background()
	edges, chunks := setup(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, chunks.Insert(ctx, newChunk(id, 10)))
	}
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "a", TargetChunkID: "b", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)
	_, err = edges.Upsert(ctx, types.Edge{SourceChunkID: "b", TargetChunkID: "c", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)

	opts := Options{Direction: types.DirectionForward, TokenBudget: 1000, MaxLength: 10, MinEdgeWeight: 0.01, Decay: decay.Config{Kernel: decay.KernelLinear, Rate: 0}, RefClock: types.VectorClock{}}
	c, err := Walk(ctx, edges, chunks, "a", uniformScore(1), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, c.ChunkIDs)
}

func TestWalkStopsAtTokenBudget(t *testing.T) {
	ctx := context.Background()
	edges, chunks := setup(t)
	require.NoError(t, chunks.Insert(ctx, newChunk("a", 10)))
	require.NoError(t, chunks.Insert(ctx, newChunk("b", 95)))
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "a", TargetChunkID: "b", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)

	opts := Options{Direction: types.DirectionForward, TokenBudget: 50, MaxLength: 10, MinEdgeWeight: 0.01, Decay: decay.Config{Kernel: decay.KernelLinear, Rate: 0}, RefClock: types.VectorClock{}}
	c, err := Walk(ctx, edges, chunks, "a", uniformScore(1), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, c.ChunkIDs, "adding b would exceed the token budget")
}

func TestWalkStopsAtMaxLength(t *testing.T) {
	ctx := context.Background()
	edges, chunks := setup(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, chunks.Insert(ctx, newChunk(id, 1)))
	}
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "a", TargetChunkID: "b", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)
	_, err = edges.Upsert(ctx, types.Edge{SourceChunkID: "b", TargetChunkID: "c", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)

	opts := Options{Direction: types.DirectionForward, TokenBudget: 1000, MaxLength: 2, MinEdgeWeight: 0.01, Decay: decay.Config{Kernel: decay.KernelLinear, Rate: 0}, RefClock: types.VectorClock{}}
	c, err := Walk(ctx, edges, chunks, "a", uniformScore(1), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, c.ChunkIDs)
}

func TestWalkNeverRevisitsAChunk(t *testing.T) {
	ctx := context.Background()
	edges, chunks := setup(t)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, chunks.Insert(ctx, newChunk(id, 1)))
	}
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "a", TargetChunkID: "b", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)
	_, err = edges.Upsert(ctx, types.Edge{SourceChunkID: "b", TargetChunkID: "a", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)

	opts := Options{Direction: types.DirectionForward, TokenBudget: 1000, MaxLength: 50, MinEdgeWeight: 0.01, Decay: decay.Config{Kernel: decay.KernelLinear, Rate: 0}, RefClock: types.VectorClock{}}
	c, err := Walk(ctx, edges, chunks, "a", uniformScore(1), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, c.ChunkIDs, "a 2-cycle must terminate once both nodes are visited")
}

func TestWalkReversesBackwardChains(t *testing.T) {
	ctx := context.Background()
	edges, chunks := setup(t)
	for _, id := range []string{"seed", "earlier", "earliest"} {
		require.NoError(t, chunks.Insert(ctx, newChunk(id, 1)))
	}
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "seed", TargetChunkID: "earlier", Direction: types.DirectionBackward, InitialWeight: 1})
	require.NoError(t, err)
	_, err = edges.Upsert(ctx, types.Edge{SourceChunkID: "earlier", TargetChunkID: "earliest", Direction: types.DirectionBackward, InitialWeight: 1})
	require.NoError(t, err)

	opts := Options{Direction: types.DirectionBackward, TokenBudget: 1000, MaxLength: 10, MinEdgeWeight: 0.01, Decay: decay.Config{Kernel: decay.KernelLinear, Rate: 0}, RefClock: types.VectorClock{}}
	c, err := Walk(ctx, edges, chunks, "seed", uniformScore(1), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"earliest", "earlier", "seed"}, c.ChunkIDs)
}

func TestPickBestPrefersHigherTotalThenMedian(t *testing.T) {
	a := Chain{ChunkIDs: []string{"a"}, TotalScore: 5, MedianScore: 1}
	b := Chain{ChunkIDs: []string{"b"}, TotalScore: 5, MedianScore: 2}
	c := Chain{ChunkIDs: []string{"c"}, TotalScore: 10, MedianScore: 0.1}

	best, ok := PickBest([]Chain{a, b, c})
	require.True(t, ok)
	require.Equal(t, []string{"c"}, best.ChunkIDs)

	best, ok = PickBest([]Chain{a, b})
	require.True(t, ok)
	require.Equal(t, []string{"b"}, best.ChunkIDs, "equal total score breaks tie on higher median")
}

func TestMedian(t *testing.T) {
	require.Equal(t, 2.0, median([]float64{1, 2, 3}))
	require.Equal(t, 2.5, median([]float64{1, 2, 3, 4}))
	require.Equal(t, 0.0, median(nil))
}
