package databases

import (
	"context"
	"sync"

	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/google/uuid"
)

// memoryEdges is the in-memory EdgeStore, grounded on the teacher's
// memory_graph.go adjacency-map structure, keyed here by the spec's
// (source,target,direction) uniqueness tuple instead of a generic
// (src,rel)->dst map.
type memoryEdges struct {
	mu      sync.RWMutex
	byID    map[string]types.Edge
	byKey   map[types.EdgeKey]string // EdgeKey -> edge id
}

func NewMemoryEdgeStore() EdgeStore {
	return &memoryEdges{byID: make(map[string]types.Edge), byKey: make(map[types.EdgeKey]string)}
}

func (m *memoryEdges) Upsert(_ context.Context, e types.Edge) (types.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.Key()
	if id, ok := m.byKey[key]; ok {
		existing := m.byID[id]
		existing.LinkCount++
		existing.ReferenceType = e.ReferenceType
		existing.InitialWeight = e.InitialWeight
		existing.Clock = e.Clock
		m.byID[id] = existing
		return existing, nil
	}
	e.ID = uuid.NewString()
	if e.LinkCount <= 0 {
		e.LinkCount = 1
	}
	m.byID[e.ID] = e
	m.byKey[key] = e.ID
	return e, nil
}

func (m *memoryEdges) GetAll(_ context.Context) ([]types.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Edge, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	return out, nil
}

// GetOutgoing returns edges sourced at chunkID. An empty direction matches
// either direction (used by the delete cascade's "any edges left?" check).
func (m *memoryEdges) GetOutgoing(_ context.Context, chunkID string, direction types.Direction) ([]types.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Edge
	for _, e := range m.byID {
		if e.SourceChunkID == chunkID && (direction == "" || e.Direction == direction) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetIncoming returns edges targeting chunkID. An empty direction matches
// either direction.
func (m *memoryEdges) GetIncoming(_ context.Context, chunkID string, direction types.Direction) ([]types.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Edge
	for _, e := range m.byID {
		if e.TargetChunkID == chunkID && (direction == "" || e.Direction == direction) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryEdges) GetByDirection(_ context.Context, direction types.Direction) ([]types.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Edge
	for _, e := range m.byID {
		if e.Direction == direction {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryEdges) DeleteBySourceChunks(_ context.Context, sourceChunkIDs []string) error {
	wanted := make(map[string]struct{}, len(sourceChunkIDs))
	for _, id := range sourceChunkIDs {
		wanted[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.byID {
		if _, ok := wanted[e.SourceChunkID]; ok {
			delete(m.byID, id)
			delete(m.byKey, e.Key())
		}
	}
	return nil
}

func (m *memoryEdges) BatchDeleteByIDs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.byID[id]
		if !ok {
			continue
		}
		delete(m.byID, id)
		delete(m.byKey, e.Key())
	}
	return nil
}

// DeleteByChunk removes every edge touching chunkID (source or target, any
// direction) — the cascade the chunk store's Delete invokes.
func (m *memoryEdges) DeleteByChunk(_ context.Context, chunkID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var touched []string
	for id, e := range m.byID {
		if e.SourceChunkID == chunkID || e.TargetChunkID == chunkID {
			delete(m.byID, id)
			delete(m.byKey, e.Key())
			if e.SourceChunkID == chunkID {
				touched = append(touched, e.TargetChunkID)
			} else {
				touched = append(touched, e.SourceChunkID)
			}
		}
	}
	return touched
}
