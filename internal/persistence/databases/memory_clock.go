package databases

import (
	"context"
	"sync"
	"time"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vclock"
)

type projectClocks struct {
	reference types.VectorClock
	agents    map[string]types.VectorClock
	updatedAt time.Time
}

// memoryClockStore is the in-memory ClockStore, keyed by project slug
// following the teacher's `project:<slug>` / `agent:<slug>:<agent>` id
// scheme but modeled as a nested map instead of a flat row table.
type memoryClockStore struct {
	mu       sync.RWMutex
	projects map[string]*projectClocks
}

func NewMemoryClockStore() ClockStore {
	return &memoryClockStore{projects: make(map[string]*projectClocks)}
}

func (m *memoryClockStore) ensure(slug string) *projectClocks {
	p, ok := m.projects[slug]
	if !ok {
		p = &projectClocks{reference: types.VectorClock{}, agents: make(map[string]types.VectorClock)}
		m.projects[slug] = p
	}
	return p
}

func (m *memoryClockStore) GetReferenceClock(_ context.Context, projectSlug string) (types.VectorClock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectSlug]
	if !ok {
		return types.VectorClock{}, nil
	}
	return p.reference.Clone(), nil
}

func (m *memoryClockStore) SetReferenceClock(_ context.Context, projectSlug string, clock types.VectorClock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.ensure(projectSlug)
	p.reference = clock.Clone()
	p.updatedAt = time.Now()
	return nil
}

func (m *memoryClockStore) GetAgentClock(_ context.Context, projectSlug, agent string) (types.VectorClock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectSlug]
	if !ok {
		return types.VectorClock{}, nil
	}
	c, ok := p.agents[agent]
	if !ok {
		return types.VectorClock{}, nil
	}
	return c.Clone(), nil
}

func (m *memoryClockStore) UpdateAgentClock(_ context.Context, projectSlug, agent string, clock types.VectorClock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.ensure(projectSlug)
	p.agents[agent] = clock.Clone()
	p.updatedAt = time.Now()
	return nil
}

func (m *memoryClockStore) GetAllAgentClocks(_ context.Context, projectSlug string) (map[string]types.VectorClock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectSlug]
	if !ok {
		return map[string]types.VectorClock{}, nil
	}
	out := make(map[string]types.VectorClock, len(p.agents))
	for agent, c := range p.agents {
		out[agent] = c.Clone()
	}
	return out, nil
}

func (m *memoryClockStore) DeleteProjectClocks(_ context.Context, projectSlug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectSlug)
	return nil
}

func (m *memoryClockStore) LastUpdateTime(_ context.Context, projectSlug string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectSlug]
	if !ok {
		return time.Time{}, false, nil
	}
	return p.updatedAt, true, nil
}

// RefreshReferenceClock recomputes projectSlug's reference clock as the
// fold-merge of every agent clock, per the clock store's refresh operation.
func RefreshReferenceClock(ctx context.Context, store ClockStore, projectSlug string) (types.VectorClock, error) {
	agents, err := store.GetAllAgentClocks(ctx, projectSlug)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "RefreshReferenceClock", err)
	}
	clocks := make([]types.VectorClock, 0, len(agents))
	for _, c := range agents {
		clocks = append(clocks, c)
	}
	merged := vclock.MergeAll(clocks)
	if err := store.SetReferenceClock(ctx, projectSlug, merged); err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "RefreshReferenceClock", err)
	}
	return merged, nil
}
