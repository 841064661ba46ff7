// Package graph implements the weighted breadth-first traversal used by
// recall/explain (backward direction) and predict (forward direction),
// grounded on spec component I and the teacher's adjacency-map traversal
// style in internal/rag/retrieve/graph_expand.go (a BFS work-queue over a
// similar source/target adjacency, generalized here to decayed,
// link-boosted edge weights and a diminishing-returns merge combiner).
package graph

import (
	"context"
	"sort"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vclock"
	"github.com/entrolution/causalmem/internal/persistence/databases"
)

// Seed is a traversal starting point with its own initial weight; the seed
// weight scales every path emanating from it.
type Seed struct {
	ChunkID string
	Weight  float64
}

// Result is one node reached by the traversal: its combined score, and the
// minimum BFS depth at which any contributing path reached it.
type Result struct {
	ChunkID  string
	Weight   float64
	MinDepth int
}

// Options bounds the traversal.
type Options struct {
	Direction types.Direction
	MinWeight float64
	MaxDepth  int
	Decay     decay.Config
	RefClock  types.VectorClock
}

// improvementEpsilon is the margin a newly discovered path to an
// already-visited node must exceed the recorded best weight by to be worth
// re-expanding. Geometric attenuation (every edge weight lies in (0,1])
// guarantees a cycle's accumulated weight never increases hop over hop,
// so a tiny epsilon is enough to terminate without starving genuine
// improvements from a cheaper alternate path.
const improvementEpsilon = 1e-9

type queueItem struct {
	chunkID string
	weight  float64
	depth   int
	seedIdx int
}

// seedContribution accumulates one seed's full sum-product contribution to
// a node (every disjoint path from that seed sums in full) along with the
// shallowest depth any of that seed's paths reached it at.
type seedContribution struct {
	sum      float64
	minDepth int
}

// Traverse runs the weighted BFS from seeds over edges in the configured
// direction, returning nodes ranked by combined weight descending. A node's
// score from a single seed is the plain sum of every path reaching it from
// that seed (sum-product accumulation, per spec); the diminishing-returns
// combiner only merges the resulting per-seed totals when more than one
// seed reaches the same node, matching the output step's duplicate-merge
// rule rather than penalizing a single seed's own disjoint paths.
func Traverse(ctx context.Context, edges databases.EdgeStore, seeds []Seed, opts Options) ([]Result, error) {
	contributions := make(map[string]map[int]*seedContribution)
	bestWeight := make(map[string]map[int]float64)

	record := func(chunkID string, seedIdx int, weight float64, depth int) {
		bySeed, ok := contributions[chunkID]
		if !ok {
			bySeed = make(map[int]*seedContribution)
			contributions[chunkID] = bySeed
		}
		c, ok := bySeed[seedIdx]
		if !ok {
			c = &seedContribution{minDepth: depth}
			bySeed[seedIdx] = c
		}
		c.sum += weight
		if depth < c.minDepth {
			c.minDepth = depth
		}
	}

	var queue []queueItem
	for i, s := range seeds {
		if s.Weight <= 0 {
			continue
		}
		queue = append(queue, queueItem{chunkID: s.ChunkID, weight: s.Weight, depth: 0, seedIdx: i})
		record(s.ChunkID, i, s.Weight, 0)
		bestWeight[s.ChunkID] = map[int]float64{i: s.Weight}
	}

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return nil, causalerr.New(causalerr.KindConcurrency, "graph.Traverse", ctx.Err())
		default:
		}

		item := queue[0]
		queue = queue[1:]

		if item.depth >= opts.MaxDepth {
			continue
		}

		out, err := edges.GetOutgoing(ctx, item.chunkID, opts.Direction)
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			hops := vclock.HopCount(e.Clock, opts.RefClock)
			ew := decay.EdgeWeight(opts.Decay, e.InitialWeight, hops, e.LinkCount)
			if ew <= 0 {
				continue
			}
			nextWeight := item.weight * ew
			if nextWeight < opts.MinWeight {
				continue
			}

			// Every path that reaches the target counts toward its score,
			// regardless of whether it's worth re-expanding from.
			record(e.TargetChunkID, item.seedIdx, nextWeight, item.depth+1)

			bySeed, ok := bestWeight[e.TargetChunkID]
			if !ok {
				bySeed = make(map[int]float64)
				bestWeight[e.TargetChunkID] = bySeed
			}
			if best, ok := bySeed[item.seedIdx]; ok && nextWeight <= best+improvementEpsilon {
				continue // not worth re-expanding this seed's path further
			}
			bySeed[item.seedIdx] = nextWeight
			queue = append(queue, queueItem{chunkID: e.TargetChunkID, weight: nextWeight, depth: item.depth + 1, seedIdx: item.seedIdx})
		}
	}

	results := make([]Result, 0, len(contributions))
	for id, bySeed := range contributions {
		perSeed := make([]float64, 0, len(bySeed))
		minDepth := -1
		for _, c := range bySeed {
			perSeed = append(perSeed, c.sum)
			if minDepth == -1 || c.minDepth < minDepth {
				minDepth = c.minDepth
			}
		}
		results = append(results, Result{ChunkID: id, Weight: diminishingSum(perSeed), MinDepth: minDepth})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Weight != results[j].Weight {
			return results[i].Weight > results[j].Weight
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results, nil
}

// diminishingSum merges several seeds' independent contributions to the
// same node with diminishing returns: the largest seed's total counts in
// full, each subsequent one (in descending order) counts at half weight —
// w = w_primary + w_secondary·0.5 generalized to N seeds. A single seed's
// own disjoint paths are summed in full before reaching here (see record
// in Traverse), so this never discounts a seed's own sum-product score.
func diminishingSum(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	sorted := append([]float64(nil), weights...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	total := sorted[0]
	for _, w := range sorted[1:] {
		total += w * 0.5
	}
	return total
}
