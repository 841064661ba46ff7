package prune

import (
	"context"
	"testing"
	"time"

	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vectorindex"
	"github.com/entrolution/causalmem/internal/persistence/databases"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newPruner(t *testing.T, debounce time.Duration) (*Pruner, databases.EdgeStore, databases.ChunkStore, *vectorindex.Index) {
	t.Helper()
	edges := databases.NewMemoryEdgeStore()
	chunks := databases.NewMemoryChunkStore(nil)
	rows := databases.NewMemoryVectorRowStore()
	idx := vectorindex.New(rows)
	require.NoError(t, idx.Load(context.Background()))
	clusters := databases.NewMemoryClusterStore()

	decayFor := func(types.Direction) decay.Config {
		return decay.Config{Kernel: decay.KernelLinear, Rate: 1, MinWeight: 0}
	}
	refClock := func(context.Context) types.VectorClock { return types.VectorClock{"agent": 100} }

	p := New(edges, idx, chunks, clusters, debounce, decayFor, refClock, zerolog.Nop())
	return p, edges, chunks, idx
}

func TestFlushDeletesDecayedEdgeAndOrphansVector(t *testing.T) {
	ctx := context.Background()
	p, edges, chunks, idx := newPruner(t, time.Hour)

	require.NoError(t, chunks.Insert(ctx, types.Chunk{ID: "a", Content: "a", TurnIndices: []int{0}}))
	require.NoError(t, chunks.Insert(ctx, types.Chunk{ID: "b", Content: "b", TurnIndices: []int{0}}))
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0, 0}}))
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "b", Embedding: []float32{0, 1, 0}}))

	e, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "a", TargetChunkID: "b", Direction: types.DirectionForward, InitialWeight: 1, Clock: types.VectorClock{"agent": 0}})
	require.NoError(t, err)

	p.Suspect(ctx, e.ID)
	require.NoError(t, p.Flush(ctx))

	all, err := edges.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all, "an edge whose decayed weight hit zero must be deleted")

	rec, ok, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.IsOrphaned(), "a's only edge is gone so its vector should be orphaned")
}

func TestSuspectIsIdempotentWithinDebounceWindow(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newPruner(t, time.Hour)
	p.Suspect(ctx, "e1")
	p.Suspect(ctx, "e1")
	p.mu.Lock()
	n := len(p.pending)
	p.mu.Unlock()
	require.Equal(t, 1, n)
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newPruner(t, time.Hour)
	require.NoError(t, p.Flush(ctx))
}

func TestRunFullPruneRejectsConcurrentStart(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newPruner(t, time.Hour)

	s1 := p.RunFullPrune(ctx, 30)
	s2 := p.RunFullPrune(ctx, 30)
	require.Same(t, s1, s2, "a concurrent start must return the in-flight handle")

	require.Eventually(t, func() bool {
		return p.Status().State != "running"
	}, time.Second, time.Millisecond)
}

func TestFullPruneDeletesDecayedEdges(t *testing.T) {
	ctx := context.Background()
	p, edges, chunks, idx := newPruner(t, time.Hour)
	require.NoError(t, chunks.Insert(ctx, types.Chunk{ID: "a", Content: "a", TurnIndices: []int{0}}))
	require.NoError(t, chunks.Insert(ctx, types.Chunk{ID: "b", Content: "b", TurnIndices: []int{0}}))
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "a", Embedding: []float32{1, 0, 0}}))
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: "b", Embedding: []float32{0, 1, 0}}))
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "a", TargetChunkID: "b", Direction: types.DirectionForward, InitialWeight: 1, Clock: types.VectorClock{"agent": 0}})
	require.NoError(t, err)

	status := p.RunFullPrune(ctx, 30)
	require.Eventually(t, func() bool { return status.State == "completed" }, time.Second, time.Millisecond)
	require.Equal(t, 1, status.Scanned)
	require.Equal(t, 1, status.Deleted)

	all, err := edges.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
