// Package clustermgr orchestrates full re-clustering and the online,
// between-reclusters maintenance of cluster membership, per spec component
// M. It sits above hdbscan (the fitting engine) and the vectorindex/
// databases store layer, grounded on the general batch/online split of the
// teacher's internal/rag/ingest pipeline.
package clustermgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/entrolution/causalmem/internal/causal/angular"
	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/hdbscan"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vectorindex"
	"github.com/entrolution/causalmem/internal/persistence/databases"
	"github.com/rs/zerolog"
)

// Config parameterizes full re-clustering and online maintenance.
type Config struct {
	MinClusterSize                int
	MinSamples                    int
	Selection                     hdbscan.SelectionMethod
	LabelCarryoverJaccard         float64
	NoiseReassignAngularThreshold float64
}

// Manager runs full re-clustering and the online membership maintenance
// that happens between re-clusters.
type Manager struct {
	clusters databases.ClusterStore
	vectors  *vectorindex.Index
	log      zerolog.Logger
}

// New constructs a Manager over the resolved cluster store and vector
// index for one process.
func New(clusters databases.ClusterStore, vectors *vectorindex.Index, log zerolog.Logger) *Manager {
	return &Manager{clusters: clusters, vectors: vectors, log: log.With().Str("component", "clustermgr").Logger()}
}

type snapshot struct {
	name        string
	description string
	members     map[string]struct{}
}

// Recluster runs the full HDBSCAN re-clustering pass described by spec
// §4.M: snapshot the current clusters, clear them, fit HDBSCAN over every
// embedding, materialize the new clusters and their assignments, reassign
// leftover noise points within an angular threshold, then carry old
// names/descriptions forward onto the best-matching new cluster by Jaccard
// overlap.
func (m *Manager) Recluster(ctx context.Context, cfg Config) (int, error) {
	old, err := m.snapshotExisting(ctx)
	if err != nil {
		return 0, err
	}

	if err := m.clusters.ClearAll(ctx); err != nil {
		return 0, causalerr.New(causalerr.KindStorage, "clustermgr.Recluster", err)
	}

	ids, err := m.vectors.GetAllIDs(ctx)
	if err != nil {
		return 0, causalerr.New(causalerr.KindStorage, "clustermgr.Recluster", err)
	}
	vecs := make([][]float32, len(ids))
	for i, id := range ids {
		rec, ok, err := m.vectors.Get(ctx, id)
		if err != nil {
			return 0, causalerr.New(causalerr.KindStorage, "clustermgr.Recluster", err)
		}
		if !ok {
			return 0, causalerr.New(causalerr.KindStorage, "clustermgr.Recluster", fmt.Errorf("vector %s vanished mid-fit", id))
		}
		vecs[i] = rec.Embedding
	}

	if err := checkCanceled(ctx); err != nil {
		return 0, err
	}

	model := hdbscan.Fit(vecs, hdbscan.Config{
		MinClusterSize: cfg.MinClusterSize,
		MinSamples:     cfg.MinSamples,
		Selection:      cfg.Selection,
	})

	newByLabel := make(map[int][]string) // hdbscan cluster id -> chunk ids
	for i, label := range model.Labels {
		if label == -1 {
			continue
		}
		newByLabel[label] = append(newByLabel[label], ids[i])
	}

	created := make([]types.Cluster, 0, len(newByLabel))
	createdMembers := make(map[string]map[string]struct{}, len(newByLabel)) // new cluster id -> member set
	var assignments []types.ClusterMember

	for _, c := range model.Clusters {
		memberIDs := make([]string, len(c.MemberIndices))
		for i, idx := range c.MemberIndices {
			memberIDs[i] = ids[idx]
		}
		newID := fmt.Sprintf("cl-%s", membershipHash(memberIDs))
		exemplarIDs := make([]string, len(c.ExemplarIdx))
		for i, idx := range c.ExemplarIdx {
			exemplarIDs[i] = ids[idx]
		}
		stored, err := m.clusters.UpsertCluster(ctx, types.Cluster{
			ID:             newID,
			Centroid:       c.Centroid,
			ExemplarIDs:    exemplarIDs,
			MembershipHash: membershipHash(memberIDs),
		})
		if err != nil {
			return 0, causalerr.New(causalerr.KindStorage, "clustermgr.Recluster", err)
		}
		created = append(created, stored)

		members := make(map[string]struct{}, len(memberIDs))
		for _, id := range memberIDs {
			members[id] = struct{}{}
			rec, ok, err := m.vectors.Get(ctx, id)
			dist := 0.0
			if ok && err == nil {
				dist = angular.Distance(rec.Embedding, c.Centroid)
			}
			assignments = append(assignments, types.ClusterMember{ChunkID: id, ClusterID: newID, Distance: dist})
		}
		createdMembers[newID] = members
	}

	if err := batchAssign(ctx, m.clusters, assignments, 500); err != nil {
		return 0, err
	}

	noiseIdx := make([]int, 0)
	for i, label := range model.Labels {
		if label == -1 {
			noiseIdx = append(noiseIdx, i)
		}
	}
	if len(noiseIdx) > 0 {
		if err := m.reassignNoise(ctx, ids, vecs, noiseIdx, created, createdMembers, cfg.NoiseReassignAngularThreshold); err != nil {
			return 0, err
		}
	}

	m.carryForwardLabels(ctx, old, created, createdMembers, cfg.LabelCarryoverJaccard)

	m.log.Info().Int("clusters", len(created)).Int("points", len(ids)).Int("noise", len(noiseIdx)).Msg("recluster complete")
	return len(created), nil
}

func (m *Manager) snapshotExisting(ctx context.Context) ([]snapshot, error) {
	clusters, err := m.clusters.GetAll(ctx)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "clustermgr.snapshotExisting", err)
	}
	out := make([]snapshot, 0, len(clusters))
	for _, c := range clusters {
		ids, err := m.clusters.GetClusterChunkIDs(ctx, c.ID)
		if err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "clustermgr.snapshotExisting", err)
		}
		members := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			members[id] = struct{}{}
		}
		out = append(out, snapshot{name: c.Name, description: c.Description, members: members})
	}
	return out, nil
}

// reassignNoise sweeps every still-noise point into every new cluster whose
// centroid is within threshold, then recomputes affected centroids.
func (m *Manager) reassignNoise(ctx context.Context, ids []string, vecs [][]float32, noiseIdx []int, clusters []types.Cluster, members map[string]map[string]struct{}, threshold float64) error {
	touched := make(map[string]struct{})
	var assignments []types.ClusterMember
	for _, pi := range noiseIdx {
		for _, c := range clusters {
			d := angular.Distance(vecs[pi], c.Centroid)
			if d <= threshold {
				members[c.ID][ids[pi]] = struct{}{}
				touched[c.ID] = struct{}{}
				assignments = append(assignments, types.ClusterMember{ChunkID: ids[pi], ClusterID: c.ID, Distance: d})
			}
		}
	}
	if len(assignments) == 0 {
		return nil
	}
	if err := batchAssign(ctx, m.clusters, assignments, 500); err != nil {
		return err
	}
	for id := range touched {
		memberIDs := sortedKeys(members[id])
		centroid := centroidOf(ids, vecs, memberIDs)
		if _, err := m.clusters.UpsertCluster(ctx, types.Cluster{ID: id, Centroid: centroid, MembershipHash: membershipHash(memberIDs)}); err != nil {
			return causalerr.New(causalerr.KindStorage, "clustermgr.reassignNoise", err)
		}
	}
	return nil
}

// carryForwardLabels greedily matches old clusters to new ones by Jaccard
// overlap of their member sets (threshold >= cfg), consuming both sides, so
// an old cluster's name and description carry over to its matched new
// cluster across small membership drift. Failures here are logged, not returned — a label naming mismatch
// must never fail the otherwise-successful recluster.
func (m *Manager) carryForwardLabels(ctx context.Context, old []snapshot, created []types.Cluster, members map[string]map[string]struct{}, minJaccard float64) {
	type pair struct {
		oldIdx int
		newID  string
		score  float64
	}
	var candidates []pair
	for oi, o := range old {
		for _, c := range created {
			j := jaccard(o.members, members[c.ID])
			if j >= minJaccard {
				candidates = append(candidates, pair{oldIdx: oi, newID: c.ID, score: j})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	oldConsumed := make(map[int]struct{})
	newConsumed := make(map[string]struct{})
	for _, p := range candidates {
		if _, done := oldConsumed[p.oldIdx]; done {
			continue
		}
		if _, done := newConsumed[p.newID]; done {
			continue
		}
		o := old[p.oldIdx]
		if _, err := m.clusters.UpsertCluster(ctx, types.Cluster{ID: p.newID, Name: o.name, Description: o.description}); err != nil {
			m.log.Warn().Err(err).Str("cluster_id", p.newID).Msg("label carry-forward failed")
			continue
		}
		oldConsumed[p.oldIdx] = struct{}{}
		newConsumed[p.newID] = struct{}{}
	}
}

// AssignOnline assigns a freshly embedded chunk to every existing cluster
// within the angular threshold, for use between full re-clusters.
func (m *Manager) AssignOnline(ctx context.Context, chunkID string, embedding []float32, threshold float64) error {
	clusters, err := m.clusters.GetAll(ctx)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "clustermgr.AssignOnline", err)
	}
	var assignments []types.ClusterMember
	for _, c := range clusters {
		if len(c.Centroid) == 0 {
			continue
		}
		d := angular.Distance(embedding, c.Centroid)
		if d <= threshold {
			assignments = append(assignments, types.ClusterMember{ChunkID: chunkID, ClusterID: c.ID, Distance: d})
		}
	}
	if len(assignments) == 0 {
		return nil
	}
	return m.clusters.AssignChunksToClusters(ctx, assignments)
}

// RefreshCentroids recomputes every cluster's centroid from its current
// membership, for periodic drift correction between full re-clusters.
func (m *Manager) RefreshCentroids(ctx context.Context) error {
	clusters, err := m.clusters.GetAll(ctx)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "clustermgr.RefreshCentroids", err)
	}
	for _, c := range clusters {
		memberIDs, err := m.clusters.GetClusterChunkIDs(ctx, c.ID)
		if err != nil {
			return causalerr.New(causalerr.KindStorage, "clustermgr.RefreshCentroids", err)
		}
		if len(memberIDs) == 0 {
			continue
		}
		var vecs [][]float32
		for _, id := range memberIDs {
			rec, ok, err := m.vectors.Get(ctx, id)
			if err != nil || !ok {
				continue
			}
			vecs = append(vecs, rec.Embedding)
		}
		centroid := angular.Centroid(vecs)
		if _, err := m.clusters.UpsertCluster(ctx, types.Cluster{ID: c.ID, Centroid: centroid}); err != nil {
			return causalerr.New(causalerr.KindStorage, "clustermgr.RefreshCentroids", err)
		}
	}
	return nil
}

func checkCanceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return causalerr.New(causalerr.KindConcurrency, "clustermgr", ctx.Err())
	default:
		return nil
	}
}

func batchAssign(ctx context.Context, clusters databases.ClusterStore, assignments []types.ClusterMember, batchSize int) error {
	for start := 0; start < len(assignments); start += batchSize {
		if err := checkCanceled(ctx); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(assignments) {
			end = len(assignments)
		}
		if err := clusters.AssignChunksToClusters(ctx, assignments[start:end]); err != nil {
			return causalerr.New(causalerr.KindStorage, "clustermgr.batchAssign", err)
		}
	}
	return nil
}

func membershipHash(memberIDs []string) string {
	sorted := append([]string(nil), memberIDs...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func centroidOf(ids []string, vecs [][]float32, memberIDs []string) []float32 {
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}
	var gathered [][]float32
	for _, id := range memberIDs {
		if i, ok := idx[id]; ok {
			gathered = append(gathered, vecs[i])
		}
	}
	return angular.Centroid(gathered)
}
