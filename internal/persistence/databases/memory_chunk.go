package databases

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
)

// memoryChunks is the in-memory ChunkStore, grounded on the teacher's
// sync.RWMutex-guarded map style in memory_graph.go/memory_vector.go.
type memoryChunks struct {
	mu     sync.RWMutex
	byID   map[string]types.Chunk
	onDeleteCascade func(ctx context.Context, chunkID string) error
}

// NewMemoryChunkStore constructs an in-memory ChunkStore. onDeleteCascade,
// if non-nil, is invoked after a chunk is removed so the edge/vector/cluster
// stores can cascade (the store layer does not know about its siblings).
func NewMemoryChunkStore(onDeleteCascade func(ctx context.Context, chunkID string) error) ChunkStore {
	return &memoryChunks{byID: make(map[string]types.Chunk), onDeleteCascade: onDeleteCascade}
}

func (m *memoryChunks) Insert(_ context.Context, c types.Chunk) error {
	if err := c.Validate(); err != nil {
		return causalerr.New(causalerr.KindValidation, "memoryChunks.Insert", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = c
	return nil
}

func (m *memoryChunks) BulkInsert(ctx context.Context, cs []types.Chunk) error {
	for _, c := range cs {
		if err := m.Insert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryChunks) Get(_ context.Context, id string) (types.Chunk, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok, nil
}

func (m *memoryChunks) GetBatch(_ context.Context, ids []string) ([]types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryChunks) GetBySession(_ context.Context, sessionID string) ([]types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Chunk
	for _, c := range m.byID {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memoryChunks) GetByProject(_ context.Context, projectPath string) ([]types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Chunk
	for _, c := range m.byID {
		if c.ProjectPath == projectPath {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memoryChunks) GetByTimeRange(_ context.Context, projectPath string, from, to time.Time, sessionID string, limit int) ([]types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Chunk
	for _, c := range m.byID {
		if projectPath != "" && c.ProjectPath != projectPath {
			continue
		}
		if sessionID != "" && c.SessionID != sessionID {
			continue
		}
		if c.StartTime.Before(from) || !c.StartTime.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryChunks) ListSessions(_ context.Context, projectPath string) ([]SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySession := make(map[string]*SessionSummary)
	for _, c := range m.byID {
		if projectPath != "" && c.ProjectPath != projectPath {
			continue
		}
		s, ok := bySession[c.SessionID]
		if !ok {
			s = &SessionSummary{SessionID: c.SessionID, SessionSlug: c.SessionSlug, FirstStart: c.StartTime, LastEnd: c.EndTime}
			bySession[c.SessionID] = s
		}
		s.ChunkCount++
		s.TotalTokens += c.ApproxTokens
		if c.StartTime.Before(s.FirstStart) {
			s.FirstStart = c.StartTime
		}
		if c.EndTime.After(s.LastEnd) {
			s.LastEnd = c.EndTime
		}
	}
	out := make([]SessionSummary, 0, len(bySession))
	for _, s := range bySession {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstStart.Before(out[j].FirstStart) })
	return out, nil
}

func (m *memoryChunks) FindPreviousSession(ctx context.Context, projectPath string, beforeEnd time.Time) (SessionSummary, bool, error) {
	sessions, err := m.ListSessions(ctx, projectPath)
	if err != nil {
		return SessionSummary{}, false, err
	}
	var best SessionSummary
	found := false
	for _, s := range sessions {
		if !s.LastEnd.Before(beforeEnd) {
			continue
		}
		if !found || s.LastEnd.After(best.LastEnd) {
			best = s
			found = true
		}
	}
	return best, found, nil
}

func (m *memoryChunks) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, existed := m.byID[id]
	delete(m.byID, id)
	m.mu.Unlock()
	if !existed {
		return causalerr.New(causalerr.KindNotFound, "memoryChunks.Delete", causalerr.ErrUnknownChunk)
	}
	if m.onDeleteCascade != nil {
		return m.onDeleteCascade(ctx, id)
	}
	return nil
}
