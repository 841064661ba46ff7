package databases

import (
	"context"
	"sync"
	"time"

	"github.com/entrolution/causalmem/internal/causal/types"
)

// memoryVectorRows is the in-memory VectorRowStore, grounded on the
// teacher's memory_vector.go map-backed design — but here it is pure
// persistence (no similarity search: that lives in
// internal/causal/vectorindex, the lazily-loaded index in front of this
// store).
type memoryVectorRows struct {
	mu   sync.RWMutex
	byID map[string]types.VectorRecord
}

func NewMemoryVectorRowStore() VectorRowStore {
	return &memoryVectorRows{byID: make(map[string]types.VectorRecord)}
}

func (m *memoryVectorRows) Put(_ context.Context, rec types.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(rec.Embedding))
	copy(cp, rec.Embedding)
	rec.Embedding = cp
	m.byID[rec.ChunkID] = rec
	return nil
}

func (m *memoryVectorRows) PutBatch(ctx context.Context, recs []types.VectorRecord) error {
	for _, r := range recs {
		if err := m.Put(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryVectorRows) Get(_ context.Context, chunkID string) (types.VectorRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[chunkID]
	return r, ok, nil
}

func (m *memoryVectorRows) Delete(_ context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, chunkID)
	return nil
}

func (m *memoryVectorRows) DeleteBatch(_ context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.byID, id)
	}
	return nil
}

func (m *memoryVectorRows) GetAll(_ context.Context) ([]types.VectorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.VectorRecord, 0, len(m.byID))
	for _, r := range m.byID {
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryVectorRows) MarkOrphaned(_ context.Context, chunkIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		r, ok := m.byID[id]
		if !ok {
			continue
		}
		t := at
		r.OrphanedAt = &t
		m.byID[id] = r
	}
	return nil
}

func (m *memoryVectorRows) TouchAccessed(_ context.Context, chunkIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		r, ok := m.byID[id]
		if !ok {
			continue
		}
		r.LastAccessed = at
		m.byID[id] = r
	}
	return nil
}
