// Package retrieval is the assembler described by spec component K: it
// embeds a query, seeds a vector search, walks the causal chain from the
// best seeds and falls back to a graph traversal, then formats the result
// into the kernel's human-readable recall/predict text. Grounded on the
// teacher's internal/rag/retrieve assembler shape (embed -> search -> walk
// -> format) and internal/rag/embedder's interface-first design for the
// embedder dependency.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/entrolution/causalmem/internal/causal/angular"
	"github.com/entrolution/causalmem/internal/causal/chain"
	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/graph"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vectorindex"
	"github.com/entrolution/causalmem/internal/persistence/databases"
)

// recencyBoost scales a candidate chunk's local score by 1.2x when it
// belongs to the caller's current session, per spec §4.K.
const recencyBoost = 1.2

// charsPerToken approximates token count from rune count for the
// paragraph-boundary truncation math; no tokenizer is wired into this
// kernel, so it mirrors the conservative 4-chars-per-token heuristic common
// across the example pack's embedding clients.
const charsPerToken = 4

// Options configures one recall/predict call.
type Options struct {
	Query             string
	Direction         types.Direction
	CurrentSessionID  string
	ProjectPaths      []string
	TokenBudget       int
	SeedCount         int
	Decay             decay.Config
	RefClock          types.VectorClock
	MaxGraphDepth     int
	MinTraversalWeight float64
	MaxChainLength    int
	MinChainEdgeWeight float64
}

// Result is the assembled, formatted retrieval output.
type Result struct {
	Text     string
	ChunkIDs []string
	Degraded bool
}

// Assembler wires the embedder, vector index and graph/chain store
// dependencies together for one process.
type Assembler struct {
	embedder types.Embedder
	vectors  *vectorindex.Index
	edges    databases.EdgeStore
	chunks   databases.ChunkStore
}

// New constructs an Assembler.
func New(embedder types.Embedder, vectors *vectorindex.Index, edges databases.EdgeStore, chunks databases.ChunkStore) *Assembler {
	return &Assembler{embedder: embedder, vectors: vectors, edges: edges, chunks: chunks}
}

// Recall embeds the query, seeds a vector search, walks the causal chain
// and falls back to a graph traversal, formatting the result up to the
// token budget. It never returns an error to the caller for embedding or
// storage failures — per spec §4.N's failure semantics, retrieval reports
// "degraded" with a structured fallback message instead of raising.
func (a *Assembler) Recall(ctx context.Context, opts Options) Result {
	queryVec, err := a.embedder.Embed(ctx, opts.Query)
	if err != nil {
		return degraded("embedding the query failed")
	}

	k := opts.SeedCount
	if k <= 0 {
		k = 10
	}
	var seeds []vectorindex.SearchResult
	if len(opts.ProjectPaths) > 0 {
		seeds, err = a.vectors.SearchByProject(ctx, queryVec, opts.ProjectPaths, k)
	} else {
		seeds, err = a.vectors.Search(ctx, queryVec, k)
	}
	if err != nil {
		return degraded("vector search failed")
	}
	if len(seeds) == 0 {
		return Result{Text: "No related memories found.", Degraded: false}
	}

	scorer := a.localScorer(ctx, queryVec, opts.CurrentSessionID)

	chainOpts := chain.Options{
		Direction:     opts.Direction,
		TokenBudget:   opts.TokenBudget,
		MaxLength:     opts.MaxChainLength,
		MinEdgeWeight: opts.MinChainEdgeWeight,
		Decay:         opts.Decay,
		RefClock:      opts.RefClock,
	}
	var candidates []chain.Chain
	for _, seed := range seeds {
		c, err := chain.Walk(ctx, a.edges, a.chunks, seed.ChunkID, scorer, chainOpts)
		if err != nil {
			continue
		}
		if len(c.ChunkIDs) >= 2 {
			candidates = append(candidates, c)
		}
	}

	if best, ok := chain.PickBest(candidates); ok {
		scores := make(map[string]float64, len(best.ChunkIDs))
		for _, id := range best.ChunkIDs {
			scores[id] = best.MedianScore
		}
		return a.format(ctx, best.ChunkIDs, scores, opts.TokenBudget)
	}

	graphSeeds := make([]graph.Seed, len(seeds))
	for i, s := range seeds {
		graphSeeds[i] = graph.Seed{ChunkID: s.ChunkID, Weight: 1 - s.Distance}
	}
	traversed, err := graph.Traverse(ctx, a.edges, graphSeeds, graph.Options{
		Direction: opts.Direction,
		MinWeight: opts.MinTraversalWeight,
		MaxDepth:  opts.MaxGraphDepth,
		Decay:     opts.Decay,
		RefClock:  opts.RefClock,
	})
	if err != nil {
		return degraded("graph traversal failed")
	}
	if len(traversed) == 0 {
		return Result{Text: "No related memories found.", Degraded: false}
	}

	sort.Slice(traversed, func(i, j int) bool { return traversed[i].Weight > traversed[j].Weight })
	ids := make([]string, len(traversed))
	scores := make(map[string]float64, len(traversed))
	for i, r := range traversed {
		ids[i] = r.ChunkID
		scores[r.ChunkID] = r.Weight
	}
	return a.format(ctx, ids, scores, opts.TokenBudget)
}

// localScorer returns a chain.LocalScorer measuring cosine similarity to
// the query embedding (as an angular-distance complement in [0,1]),
// boosted 1.2x when the candidate chunk belongs to currentSessionID.
func (a *Assembler) localScorer(ctx context.Context, queryVec []float32, currentSessionID string) chain.LocalScorer {
	return func(ctx context.Context, chunkID string) (float64, error) {
		rec, ok, err := a.vectors.Get(ctx, chunkID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		score := 1 - angular.Distance(rec.Embedding, queryVec)
		if currentSessionID != "" {
			if c, ok, err := a.chunks.Get(ctx, chunkID); err == nil && ok && c.SessionID == currentSessionID {
				score *= recencyBoost
			}
		}
		return score, nil
	}
}

func (a *Assembler) format(ctx context.Context, ids []string, scores map[string]float64, tokenBudget int) Result {
	var b strings.Builder
	used := 0
	out := make([]string, 0, len(ids))

	for i, id := range ids {
		c, ok, err := a.chunks.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		header := fmt.Sprintf("[Session: %s | Date: %s | Relevance: %d%%]",
			c.SessionSlug, c.StartTime.Format("2006-01-02"), relevancePercent(scores[id]))

		body := c.Content
		remaining := tokenBudget - used - approxTokens(header)
		if tokenBudget > 0 && approxTokens(body) > remaining {
			if remaining <= 0 && len(out) > 0 {
				break
			}
			body = truncate(body, remaining)
		}

		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n---\n")
		used += approxTokens(header) + approxTokens(body)
		out = append(out, id)
	}

	return Result{Text: strings.TrimSuffix(b.String(), "\n"), ChunkIDs: out}
}

// truncate cuts text to fit within budget tokens, preferring the nearest
// paragraph boundary ("\n\n") within the second half of the remaining
// budget, falling back to a hard character cap, and appending the
// truncation marker either way.
func truncate(text string, budgetTokens int) string {
	if budgetTokens <= 0 {
		return "…[truncated]"
	}
	maxChars := budgetTokens * charsPerToken
	if maxChars >= len(text) {
		return text
	}
	cut := text[:maxChars]
	halfStart := maxChars / 2
	if idx := strings.LastIndex(cut[halfStart:], "\n\n"); idx >= 0 {
		cut = cut[:halfStart+idx]
	}
	return strings.TrimRight(cut, "\n") + "\n…[truncated]"
}

func approxTokens(s string) int {
	n := len([]rune(s)) / charsPerToken
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

func relevancePercent(score float64) int {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return int(score*100 + 0.5)
}

func degraded(message string) Result {
	return Result{Text: fmt.Sprintf("Retrieval degraded: %s.", message), Degraded: true}
}
