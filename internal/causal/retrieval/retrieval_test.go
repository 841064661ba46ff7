package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vectorindex"
	"github.com/entrolution/causalmem/internal/persistence/databases"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

func setup(t *testing.T) (*Assembler, databases.EdgeStore, databases.ChunkStore, *vectorindex.Index) {
	t.Helper()
	ctx := context.Background()
	edges := databases.NewMemoryEdgeStore()
	chunks := databases.NewMemoryChunkStore(nil)
	rows := databases.NewMemoryVectorRowStore()
	idx := vectorindex.New(rows)
	require.NoError(t, idx.Load(ctx))
	emb := &fakeEmbedder{vec: []float32{1, 0, 0}}
	return New(emb, idx, edges, chunks), edges, chunks, idx
}

func insertChunk(t *testing.T, ctx context.Context, chunks databases.ChunkStore, idx *vectorindex.Index, id, session string, v []float32) {
	t.Helper()
	require.NoError(t, chunks.Insert(ctx, types.Chunk{
		ID: id, Content: "content for " + id, SessionID: session, SessionSlug: session,
		TurnIndices: []int{0}, StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ApproxTokens: 10,
	}))
	require.NoError(t, idx.Insert(ctx, types.VectorRecord{ChunkID: id, Embedding: v}))
}

func TestRecallWalksChainFromBestSeed(t *testing.T) {
	ctx := context.Background()
	a, edges, chunks, idx := setup(t)
	insertChunk(t, ctx, chunks, idx, "a", "s1", []float32{1, 0, 0})
	insertChunk(t, ctx, chunks, idx, "b", "s1", []float32{0.9, 0.1, 0})
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "a", TargetChunkID: "b", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)

	res := a.Recall(ctx, Options{
		Query: "find a", Direction: types.DirectionForward, TokenBudget: 1000, SeedCount: 5,
		Decay: decay.Config{Kernel: decay.KernelLinear, Rate: 0}, MaxChainLength: 10, MinChainEdgeWeight: 0.01,
		MaxGraphDepth: 5, MinTraversalWeight: 0.01,
	})
	require.False(t, res.Degraded)
	require.Contains(t, res.ChunkIDs, "a")
	require.Contains(t, res.Text, "[Session: s1")
	require.Contains(t, res.Text, "---")
}

func TestRecallFallsBackToGraphWhenNoEdges(t *testing.T) {
	ctx := context.Background()
	a, _, chunks, idx := setup(t)
	insertChunk(t, ctx, chunks, idx, "a", "s1", []float32{1, 0, 0})

	res := a.Recall(ctx, Options{
		Query: "find a", Direction: types.DirectionForward, TokenBudget: 1000, SeedCount: 5,
		Decay: decay.Config{Kernel: decay.KernelLinear, Rate: 0}, MaxChainLength: 10, MinChainEdgeWeight: 0.01,
		MaxGraphDepth: 5, MinTraversalWeight: 0.01,
	})
	require.False(t, res.Degraded)
	require.Equal(t, []string{"a"}, res.ChunkIDs)
}

func TestRecallDegradesOnEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	a, _, _, _ := setup(t)
	a.embedder = &fakeEmbedder{err: errors.New("endpoint unreachable")}

	res := a.Recall(ctx, Options{Query: "x", TokenBudget: 100})
	require.True(t, res.Degraded)
	require.Contains(t, res.Text, "degraded")
}

func TestRecallNoSeedsReturnsEmptyMessage(t *testing.T) {
	ctx := context.Background()
	a, _, _, _ := setup(t)
	res := a.Recall(ctx, Options{Query: "x", TokenBudget: 100})
	require.False(t, res.Degraded)
	require.Equal(t, "No related memories found.", res.Text)
}

func TestRecallAppliesRecencyBoostForCurrentSession(t *testing.T) {
	ctx := context.Background()
	a, edges, chunks, idx := setup(t)
	insertChunk(t, ctx, chunks, idx, "same-session", "s1", []float32{0.9, 0.1, 0})
	insertChunk(t, ctx, chunks, idx, "other-session", "s2", []float32{0.9, 0.1, 0})
	_, err := edges.Upsert(ctx, types.Edge{SourceChunkID: "same-session", TargetChunkID: "other-session", Direction: types.DirectionForward, InitialWeight: 1})
	require.NoError(t, err)

	scorer := a.localScorer(ctx, []float32{1, 0, 0}, "s1")
	boosted, err := scorer(ctx, "same-session")
	require.NoError(t, err)
	plain, err := scorer(ctx, "other-session")
	require.NoError(t, err)
	require.Greater(t, boosted, plain)
}

func TestTruncatePrefersParagraphBoundary(t *testing.T) {
	text := "first paragraph of reasonable length here.\n\nsecond paragraph that would overflow the budget by a fair amount of extra text padding padding padding padding."
	out := truncate(text, 15)
	require.Contains(t, out, "…[truncated]")
	require.True(t, len(out) < len(text))
}

func TestTruncateNoParagraphBoundaryFallsBackToHardCap(t *testing.T) {
	text := "one long paragraph with no double newlines anywhere in it at all so there is no boundary to use"
	out := truncate(text, 5)
	require.Contains(t, out, "…[truncated]")
}
