// Package chain implements the greedy episodic chain walker used to
// reconstruct a chronologically consistent narrative through the causal
// graph, grounded on spec component J and the teacher's greedy
// best-successor walk in internal/rag/retrieve/candidates.go (there:
// picking the best-scoring next candidate document; here: picking the
// best-scoring next causally-linked chunk, gated by token budget instead
// of a result-count cap).
package chain

import (
	"context"
	"sort"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vclock"
	"github.com/entrolution/causalmem/internal/persistence/databases"
)

// LocalScorer supplies a chunk's standalone relevance (e.g. embedding
// similarity to the retrieval query) the walker combines with edge weight
// when choosing the best successor.
type LocalScorer func(ctx context.Context, chunkID string) (float64, error)

// Options bounds one chain walk.
type Options struct {
	Direction     types.Direction
	TokenBudget   int
	MaxLength     int
	MinEdgeWeight float64
	Decay         decay.Config
	RefClock      types.VectorClock
}

// Chain is one walked sequence, chronologically ordered.
type Chain struct {
	ChunkIDs    []string
	TotalScore  float64
	MedianScore float64
	TotalTokens int
}

// Walk produces the best chronologically consistent chain starting at
// seedID. It repeatedly picks the outgoing edge whose destination
// maximises (edge-weight × local score), appending it to the chain, until
// a termination gate fires: token budget exhausted, max chain length
// reached, the best remaining edge's weight falls below minEdgeWeight, or
// no unvisited successor exists. Backward chains are reversed at the end
// so the output reads chronologically.
func Walk(ctx context.Context, edges databases.EdgeStore, chunks databases.ChunkStore, seedID string, score LocalScorer, opts Options) (Chain, error) {
	seed, ok, err := chunks.Get(ctx, seedID)
	if err != nil {
		return Chain{}, err
	}
	if !ok {
		return Chain{}, causalerr.New(causalerr.KindNotFound, "chain.Walk", causalerr.ErrUnknownChunk)
	}

	seedScore, err := score(ctx, seedID)
	if err != nil {
		return Chain{}, err
	}

	ids := []string{seedID}
	nodeScores := []float64{seedScore}
	tokensUsed := seed.ApproxTokens
	visited := map[string]bool{seedID: true}
	current := seedID

	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = len(ids)
	}

	for len(ids) < maxLength {
		select {
		case <-ctx.Done():
			return Chain{}, causalerr.New(causalerr.KindConcurrency, "chain.Walk", ctx.Err())
		default:
		}

		out, err := edges.GetOutgoing(ctx, current, opts.Direction)
		if err != nil {
			return Chain{}, err
		}

		bestTarget := ""
		bestEdgeWeight := 0.0
		bestScore := -1.0
		for _, e := range out {
			if visited[e.TargetChunkID] {
				continue
			}
			hops := vclock.HopCount(e.Clock, opts.RefClock)
			ew := decay.EdgeWeight(opts.Decay, e.InitialWeight, hops, e.LinkCount)
			if ew <= 0 {
				continue
			}
			localScore, err := score(ctx, e.TargetChunkID)
			if err != nil {
				return Chain{}, err
			}
			combined := ew * localScore
			if combined > bestScore {
				bestScore = combined
				bestTarget = e.TargetChunkID
				bestEdgeWeight = ew
			}
		}

		if bestTarget == "" {
			break // no unvisited successor
		}
		if bestEdgeWeight < opts.MinEdgeWeight {
			break // best remaining edge too weak to extend the chain
		}

		candidate, ok, err := chunks.Get(ctx, bestTarget)
		if err != nil {
			return Chain{}, err
		}
		if !ok {
			break
		}
		if opts.TokenBudget > 0 && tokensUsed+candidate.ApproxTokens > opts.TokenBudget {
			break // token budget exhausted
		}

		ids = append(ids, bestTarget)
		nodeScores = append(nodeScores, bestScore)
		tokensUsed += candidate.ApproxTokens
		visited[bestTarget] = true
		current = bestTarget
	}

	if opts.Direction == types.DirectionBackward {
		reverse(ids)
		reverseFloat(nodeScores)
	}

	return Chain{
		ChunkIDs:    ids,
		TotalScore:  sum(nodeScores),
		MedianScore: median(nodeScores),
		TotalTokens: tokensUsed,
	}, nil
}

// PickBest selects the strongest of several competing chains by total
// score, using median score (the walker's own per-chunk weight) as the
// tiebreaker.
func PickBest(chains []Chain) (Chain, bool) {
	var best Chain
	found := false
	for _, c := range chains {
		if len(c.ChunkIDs) == 0 {
			continue
		}
		if !found || c.TotalScore > best.TotalScore ||
			(c.TotalScore == best.TotalScore && c.MedianScore > best.MedianScore) {
			best = c
			found = true
		}
	}
	return best, found
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseFloat(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
