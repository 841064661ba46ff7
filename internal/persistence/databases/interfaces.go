// Package databases holds the persistence-facing store interfaces and their
// memory/postgres implementations, grounded on the teacher's
// internal/persistence/databases package (interfaces.go, factory.go,
// memory_graph.go/postgres_graph.go, memory_vector.go/postgres_vector.go):
// the same dual-backend-behind-an-interface shape, generalized from the
// teacher's generic Node/Edge/vector-embedding model to the causal memory
// kernel's chunk/edge/vector/cluster/clock rows.
package databases

import (
	"context"
	"time"

	"github.com/entrolution/causalmem/internal/causal/types"
)

// ChunkFilter narrows a chunk store listing.
type ChunkFilter struct {
	SessionID   string
	ProjectPath string
	AgentID     string
	TeamName    string
	Limit       int
}

// SessionSummary is one row of ListSessions: a project's session, with
// aggregate chunk counts and its time span.
type SessionSummary struct {
	SessionID    string
	SessionSlug  string
	ChunkCount   int
	TotalTokens  int
	FirstStart   time.Time
	LastEnd      time.Time
}

// ChunkStore persists chunks and indexes them by session, project and time,
// grounded on spec component D.
type ChunkStore interface {
	Insert(ctx context.Context, c types.Chunk) error
	BulkInsert(ctx context.Context, cs []types.Chunk) error
	Get(ctx context.Context, id string) (types.Chunk, bool, error)
	GetBatch(ctx context.Context, ids []string) ([]types.Chunk, error)
	GetBySession(ctx context.Context, sessionID string) ([]types.Chunk, error)
	GetByProject(ctx context.Context, projectPath string) ([]types.Chunk, error)
	// GetByTimeRange returns chunks starting in the half-open range
	// [from, to), ascending by start time, optionally filtered by session.
	GetByTimeRange(ctx context.Context, projectPath string, from, to time.Time, sessionID string, limit int) ([]types.Chunk, error)
	ListSessions(ctx context.Context, projectPath string) ([]SessionSummary, error)
	// FindPreviousSession returns the most recent session in the same
	// project ending strictly before beforeEnd.
	FindPreviousSession(ctx context.Context, projectPath string, beforeEnd time.Time) (SessionSummary, bool, error)
	// Delete cascades to edges (both directions), the chunk's vector
	// (orphaned, not removed) and cluster memberships.
	Delete(ctx context.Context, id string) error
}

// EdgeStore persists typed edges and supports adjacency lookups, grounded
// on spec component E.
type EdgeStore interface {
	// Upsert creates a new edge or, on a (source,target,direction)
	// collision, increments link_count and updates reference type/weight.
	Upsert(ctx context.Context, e types.Edge) (types.Edge, error)
	GetAll(ctx context.Context) ([]types.Edge, error)
	GetOutgoing(ctx context.Context, chunkID string, direction types.Direction) ([]types.Edge, error)
	GetIncoming(ctx context.Context, chunkID string, direction types.Direction) ([]types.Edge, error)
	GetByDirection(ctx context.Context, direction types.Direction) ([]types.Edge, error)
	// DeleteBySourceChunks removes every edge whose source is one of
	// sourceChunkIDs — the caller (the chunk store's session cascade)
	// resolves the session's chunk ids first.
	DeleteBySourceChunks(ctx context.Context, sourceChunkIDs []string) error
	BatchDeleteByIDs(ctx context.Context, ids []string) error
}

// ClusterStore persists clusters and chunk-to-cluster membership, grounded
// on spec component G.
type ClusterStore interface {
	// UpsertCluster creates or replaces the specified fields of a cluster;
	// fields left zero-valued in the partial update are preserved.
	UpsertCluster(ctx context.Context, c types.Cluster) (types.Cluster, error)
	AssignChunksToClusters(ctx context.Context, members []types.ClusterMember) error
	ClearAll(ctx context.Context) error
	GetAll(ctx context.Context) ([]types.Cluster, error)
	GetClusterChunkIDs(ctx context.Context, clusterID string) ([]string, error)
	// DeleteIfEmpty removes a cluster with no remaining members.
	DeleteIfEmpty(ctx context.Context, clusterID string) (bool, error)
}

// ClockStore persists per-project reference and per-agent vector clocks,
// grounded on spec component H.
type ClockStore interface {
	GetReferenceClock(ctx context.Context, projectSlug string) (types.VectorClock, error)
	SetReferenceClock(ctx context.Context, projectSlug string, clock types.VectorClock) error
	GetAgentClock(ctx context.Context, projectSlug, agent string) (types.VectorClock, error)
	UpdateAgentClock(ctx context.Context, projectSlug, agent string, clock types.VectorClock) error
	GetAllAgentClocks(ctx context.Context, projectSlug string) (map[string]types.VectorClock, error)
	DeleteProjectClocks(ctx context.Context, projectSlug string) error
	LastUpdateTime(ctx context.Context, projectSlug string) (time.Time, bool, error)
}

// VectorRowStore is the durable persistence layer behind the in-memory
// vector index (internal/causal/vectorindex): plain CRUD over embedding
// blobs and their orphan/access-time bookkeeping. It holds no similarity
// search logic — that lives in the lazily-loaded in-memory index, per spec
// component F ("in-memory index over persisted blobs").
type VectorRowStore interface {
	Put(ctx context.Context, rec types.VectorRecord) error
	PutBatch(ctx context.Context, recs []types.VectorRecord) error
	Get(ctx context.Context, chunkID string) (types.VectorRecord, bool, error)
	Delete(ctx context.Context, chunkID string) error
	DeleteBatch(ctx context.Context, chunkIDs []string) error
	GetAll(ctx context.Context) ([]types.VectorRecord, error)
	MarkOrphaned(ctx context.Context, chunkIDs []string, at time.Time) error
	TouchAccessed(ctx context.Context, chunkIDs []string, at time.Time) error
}

// Manager bundles the resolved store backends for one process.
type Manager struct {
	Chunks  ChunkStore
	Edges   EdgeStore
	Vectors VectorRowStore
	Clusters ClusterStore
	Clocks  ClockStore
}

// Close releases any underlying connection pools. It is a no-op for
// memory-backed stores.
func (m Manager) Close() {
	for _, s := range []any{m.Chunks, m.Edges, m.Vectors, m.Clusters, m.Clocks} {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
