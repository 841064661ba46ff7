// Package hdbscan implements the density-based clustering engine the
// specification's component L describes step by step: core distances,
// mutual reachability, a minimum spanning tree, hierarchy condensation via
// union-find, cluster stability, excess-of-mass/leaf selection, labelling
// and incremental predict. No HDBSCAN package appears anywhere in the
// retrieved example pack, so this is grounded directly on spec §4.L; the
// general clustering shape (fit over an embedding set, predict against
// retained centroids) follows the teacher's internal/rag/ingest package's
// batch-then-online split.
package hdbscan

import (
	"math"
	"sort"

	"github.com/entrolution/causalmem/internal/causal/angular"
)

// SelectionMethod chooses how condensed clusters are flattened into a final
// partition.
type SelectionMethod string

const (
	// SelectionEOM ("excess of mass") is the default: bottom-up comparison
	// of a cluster's own stability against the sum of its children's.
	SelectionEOM SelectionMethod = "eom"
	// SelectionLeaf selects every cluster with no children.
	SelectionLeaf SelectionMethod = "leaf"
)

// Config parameterizes one Fit.
type Config struct {
	MinClusterSize int
	MinSamples     int
	Selection      SelectionMethod
}

// Cluster is one selected cluster after Fit: its members, centroid and the
// exemplars (points closest to the centroid) retained for Predict.
type Cluster struct {
	ID            int
	MemberIndices []int
	Centroid      []float32
	ExemplarIdx   []int
}

// Model is the result of Fit: a label/probability/outlier-score per input
// point, plus the selected clusters retained for incremental Predict.
type Model struct {
	Labels        []int
	Probabilities []float64
	OutlierScores []float64
	Clusters      []Cluster

	avgIntraCentroidDist float64
}

const noise = -1

// epsilonDistance floors a zero mutual-reachability distance before
// inverting it to a lambda value, so duplicate/identical points don't
// divide by zero.
const epsilonDistance = 1e-12

// Fit clusters vectors (angular distance) per spec §4.L's eight stages.
// Every vector must have the same dimensionality. Fewer than 2 points, or a
// hierarchy that never splits into two components of at least
// MinClusterSize, yield every point labelled noise.
func Fit(vectors [][]float32, cfg Config) *Model {
	n := len(vectors)
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 1
	}
	if n < 2 {
		return allNoise(n)
	}

	core := coreDistances(vectors, cfg.MinSamples)
	mst := minimumSpanningTree(vectors, core)
	clusters, rootClusterID := condense(n, mst, cfg.MinClusterSize)

	var selected []int
	if rootClusterID != 0 && len(clusters[rootClusterID].children) > 0 {
		switch cfg.Selection {
		case SelectionLeaf:
			selected = selectLeaf(clusters, rootClusterID)
		default:
			selected, _ = selectEOM(clusters, rootClusterID)
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = noise
	}
	var built []Cluster
	for _, id := range selected {
		c := clusters[id]
		members := sortedMembers(c.members)
		for _, p := range members {
			labels[p] = id
		}
		centroid := angular.Centroid(gather(vectors, members))
		built = append(built, Cluster{
			ID:            id,
			MemberIndices: members,
			Centroid:      centroid,
			ExemplarIdx:   exemplars(vectors, members, centroid, 3),
		})
	}
	sort.Slice(built, func(i, j int) bool { return built[i].ID < built[j].ID })

	probs := make([]float64, n)
	outliers := make([]float64, n)
	for i, l := range labels {
		if l != noise {
			probs[i] = 1
		}
		outliers[i] = 1 - probs[i]
	}

	return &Model{
		Labels:               labels,
		Probabilities:        probs,
		OutlierScores:        outliers,
		Clusters:             built,
		avgIntraCentroidDist: averageIntraCentroidDistance(built),
	}
}

func allNoise(n int) *Model {
	labels := make([]int, n)
	outliers := make([]float64, n)
	for i := range labels {
		labels[i] = noise
		outliers[i] = 1
	}
	return &Model{Labels: labels, Probabilities: make([]float64, n), OutlierScores: outliers}
}

// Predict assigns point to the nearest retained centroid if its distance is
// below 2x the fitted average intra-centroid distance, else reports noise.
func (m *Model) Predict(point []float32) (clusterID int, isNoise bool) {
	if len(m.Clusters) == 0 {
		return 0, true
	}
	threshold := 2 * m.avgIntraCentroidDist
	if len(m.Clusters) == 1 {
		threshold = math.Inf(1)
	}
	best := m.Clusters[0]
	bestDist := angular.Distance(point, best.Centroid)
	for _, c := range m.Clusters[1:] {
		d := angular.Distance(point, c.Centroid)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	if bestDist < threshold {
		return best.ID, false
	}
	return 0, true
}

// --- stage 1: core distances ---

func coreDistances(vectors [][]float32, minSamples int) []float64 {
	n := len(vectors)
	core := make([]float64, n)
	for i := range vectors {
		ds := make([]float64, 0, n-1)
		for j := range vectors {
			if i == j {
				continue
			}
			ds = append(ds, angular.Distance(vectors[i], vectors[j]))
		}
		sort.Float64s(ds)
		k := minSamples - 1
		if k >= len(ds) {
			k = len(ds) - 1
		}
		if k < 0 {
			k = 0
		}
		core[i] = ds[k]
	}
	return core
}

// --- stages 2-3: mutual reachability + MST (dense Prim) ---

type mstEdge struct {
	u, v   int
	weight float64
}

func minimumSpanningTree(vectors [][]float32, core []float64) []mstEdge {
	n := len(vectors)
	inTree := make([]bool, n)
	minEdge := make([]float64, n)
	fromNode := make([]int, n)
	for i := range minEdge {
		minEdge[i] = math.Inf(1)
		fromNode[i] = -1
	}
	minEdge[0] = 0

	edges := make([]mstEdge, 0, n-1)
	for iter := 0; iter < n; iter++ {
		u := -1
		best := math.Inf(1)
		for v := 0; v < n; v++ {
			if !inTree[v] && minEdge[v] < best {
				best = minEdge[v]
				u = v
			}
		}
		inTree[u] = true
		if fromNode[u] != -1 {
			edges = append(edges, mstEdge{u: fromNode[u], v: u, weight: minEdge[u]})
		}
		for v := 0; v < n; v++ {
			if inTree[v] {
				continue
			}
			mreach := math.Max(core[u], math.Max(core[v], angular.Distance(vectors[u], vectors[v])))
			if mreach < minEdge[v] {
				minEdge[v] = mreach
				fromNode[v] = u
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })
	return edges
}

// --- stage 4: condensation via union-find ---

type condensedCluster struct {
	id       int
	birth    float64
	death    float64
	closed   bool
	members  map[int]struct{}
	children []int
	stability float64
}

func condense(n int, mst []mstEdge, minClusterSize int) (map[int]*condensedCluster, int) {
	parent := make([]int, n)
	size := make([]int, n)
	for i := range parent {
		parent[i] = i
		size[i] = 1
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	clusterOf := make(map[int]int, n) // component root -> active cluster id (0 = none)
	loose := make(map[int][]int, n)   // component root -> raw point indices, when clusterOf == 0
	for i := 0; i < n; i++ {
		clusterOf[i] = 0
		loose[i] = []int{i}
	}

	clusters := make(map[int]*condensedCluster)
	nextID := 1

	for _, e := range mst {
		ru, rv := find(e.u), find(e.v)
		if ru == rv {
			continue
		}
		a, b := size[ru], size[rv]
		w := e.weight
		if w < epsilonDistance {
			w = epsilonDistance
		}
		lambda := 1 / w

		cu, cv := clusterOf[ru], clusterOf[rv]
		var newID int
		switch {
		case cu != 0 && cv != 0:
			clusters[cu].death, clusters[cu].closed = lambda, true
			clusters[cv].death, clusters[cv].closed = lambda, true
			merged := make(map[int]struct{}, len(clusters[cu].members)+len(clusters[cv].members))
			for p := range clusters[cu].members {
				merged[p] = struct{}{}
			}
			for p := range clusters[cv].members {
				merged[p] = struct{}{}
			}
			newID = nextID
			nextID++
			clusters[newID] = &condensedCluster{id: newID, birth: lambda, members: merged, children: []int{cu, cv}}
		case cu != 0 && cv == 0:
			for _, p := range loose[rv] {
				clusters[cu].members[p] = struct{}{}
			}
			newID = cu
		case cv != 0 && cu == 0:
			for _, p := range loose[ru] {
				clusters[cv].members[p] = struct{}{}
			}
			newID = cv
		default:
			if a+b >= minClusterSize {
				merged := make(map[int]struct{}, a+b)
				for _, p := range loose[ru] {
					merged[p] = struct{}{}
				}
				for _, p := range loose[rv] {
					merged[p] = struct{}{}
				}
				newID = nextID
				nextID++
				clusters[newID] = &condensedCluster{id: newID, birth: lambda, members: merged}
			}
		}

		if size[ru] < size[rv] {
			ru, rv = rv, ru
		}
		parent[rv] = ru
		size[ru] = a + b
		clusterOf[ru] = newID
		if newID == 0 {
			loose[ru] = append(loose[ru], loose[rv]...)
		} else {
			delete(loose, ru)
			delete(loose, rv)
		}
		delete(clusterOf, rv)
	}

	for _, c := range clusters {
		if !c.closed {
			c.death = 0
		}
		if c.birth > c.death {
			c.stability = float64(len(c.members)) * (c.birth - c.death)
		}
	}

	root := find(0)
	return clusters, clusterOf[root]
}

// --- stages 5-6: stability + selection ---

func selectEOM(clusters map[int]*condensedCluster, id int) ([]int, float64) {
	c := clusters[id]
	if len(c.children) == 0 {
		return []int{id}, c.stability
	}
	var childSelected []int
	var childTotal float64
	for _, ch := range c.children {
		sel, stab := selectEOM(clusters, ch)
		childSelected = append(childSelected, sel...)
		childTotal += stab
	}
	if c.stability >= childTotal {
		return []int{id}, c.stability
	}
	return childSelected, childTotal
}

func selectLeaf(clusters map[int]*condensedCluster, id int) []int {
	c := clusters[id]
	if len(c.children) == 0 {
		return []int{id}
	}
	var out []int
	for _, ch := range c.children {
		out = append(out, selectLeaf(clusters, ch)...)
	}
	return out
}

// --- stages 7-8: labelling + exemplars ---

func sortedMembers(members map[int]struct{}) []int {
	out := make([]int, 0, len(members))
	for p := range members {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func gather(vectors [][]float32, idx []int) [][]float32 {
	out := make([][]float32, len(idx))
	for i, p := range idx {
		out[i] = vectors[p]
	}
	return out
}

func exemplars(vectors [][]float32, members []int, centroid []float32, k int) []int {
	type scored struct {
		idx  int
		dist float64
	}
	ranked := make([]scored, len(members))
	for i, p := range members {
		ranked[i] = scored{idx: p, dist: angular.Distance(vectors[p], centroid)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].idx
	}
	return out
}

func averageIntraCentroidDistance(clusters []Cluster) float64 {
	if len(clusters) < 2 {
		return 0
	}
	var total float64
	var count int
	for i := 0; i < len(clusters); i++ {
		for j := i + 1; j < len(clusters); j++ {
			total += angular.Distance(clusters[i].Centroid, clusters[j].Centroid)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
