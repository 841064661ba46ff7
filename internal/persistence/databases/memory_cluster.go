package databases

import (
	"context"
	"sync"

	"github.com/entrolution/causalmem/internal/causal/types"
)

type memoryClusters struct {
	mu      sync.RWMutex
	byID    map[string]types.Cluster
	members map[string]map[string]types.ClusterMember // clusterID -> chunkID -> member
}

func NewMemoryClusterStore() ClusterStore {
	return &memoryClusters{
		byID:    make(map[string]types.Cluster),
		members: make(map[string]map[string]types.ClusterMember),
	}
}

func (m *memoryClusters) UpsertCluster(_ context.Context, c types.Cluster) (types.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byID[c.ID]; ok {
		merged := mergeCluster(existing, c)
		m.byID[c.ID] = merged
		return merged, nil
	}
	m.byID[c.ID] = c
	if _, ok := m.members[c.ID]; !ok {
		m.members[c.ID] = make(map[string]types.ClusterMember)
	}
	return c, nil
}

// mergeCluster preserves unspecified (zero-valued) fields of the update
// from the existing row, per the upsert's partial-update semantics.
func mergeCluster(existing, update types.Cluster) types.Cluster {
	out := existing
	if update.Name != "" {
		out.Name = update.Name
	}
	if update.Description != "" {
		out.Description = update.Description
	}
	if len(update.Centroid) > 0 {
		out.Centroid = update.Centroid
	}
	if len(update.ExemplarIDs) > 0 {
		out.ExemplarIDs = update.ExemplarIDs
	}
	if update.MembershipHash != "" {
		out.MembershipHash = update.MembershipHash
	}
	if update.RefreshedAt != nil {
		out.RefreshedAt = update.RefreshedAt
	}
	return out
}

func (m *memoryClusters) AssignChunksToClusters(_ context.Context, members []types.ClusterMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range members {
		if _, ok := m.members[mem.ClusterID]; !ok {
			m.members[mem.ClusterID] = make(map[string]types.ClusterMember)
		}
		m.members[mem.ClusterID][mem.ChunkID] = mem
	}
	return nil
}

func (m *memoryClusters) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]types.Cluster)
	m.members = make(map[string]map[string]types.ClusterMember)
	return nil
}

func (m *memoryClusters) GetAll(_ context.Context) ([]types.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Cluster, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryClusters) GetClusterChunkIDs(_ context.Context, clusterID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.members[clusterID]
	out := make([]string, 0, len(members))
	for chunkID := range members {
		out = append(out, chunkID)
	}
	return out, nil
}

func (m *memoryClusters) DeleteIfEmpty(_ context.Context, clusterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.members[clusterID]) > 0 {
		return false, nil
	}
	delete(m.byID, clusterID)
	delete(m.members, clusterID)
	return true, nil
}

// RemoveChunk drops chunkID's membership from every cluster it belongs to,
// returning the ids of clusters it was removed from — the chunk store's
// delete cascade uses this to know which clusters to re-check with
// DeleteIfEmpty.
func (m *memoryClusters) RemoveChunk(_ context.Context, chunkID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected []string
	for clusterID, members := range m.members {
		if _, ok := members[chunkID]; ok {
			delete(members, chunkID)
			affected = append(affected, clusterID)
		}
	}
	return affected
}
