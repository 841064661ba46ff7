// Package types holds the pure domain model shared by every causal memory
// component: chunks, edges, vector records, clusters and vector clocks.
//
// These are in-process value types. The persistence-facing row shapes that
// map them to SQL columns live in internal/persistence/databases.
package types

import (
	"context"
	"sort"
	"time"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
)

// Direction is the orientation of a causal edge.
type Direction string

const (
	// DirectionBackward means "source was causally influenced by target" —
	// the direction used for recall/explain retrieval.
	DirectionBackward Direction = "backward"
	// DirectionForward means "target builds on source" — the direction
	// used for prediction.
	DirectionForward Direction = "forward"
)

// ReferenceType classifies why an edge was observed.
type ReferenceType string

const (
	RefWithinChain    ReferenceType = "within-chain"
	RefFilePath       ReferenceType = "file-path"
	RefCodeEntity     ReferenceType = "code-entity"
	RefExplicitBackref ReferenceType = "explicit-backref"
	RefErrorFragment  ReferenceType = "error-fragment"
	RefToolOutput     ReferenceType = "tool-output"
	RefNone           ReferenceType = ""
)

// Chunk is a contiguous span of conversation captured as a memory unit.
type Chunk struct {
	ID           string
	Content      string
	ApproxTokens int

	SessionID    string
	SessionSlug  string
	TurnIndices  []int
	StartTime    time.Time
	EndTime      time.Time

	AgentID     string
	SpawnDepth  int
	ProjectPath string
	TeamName    string

	CodeBlockCount int
	ToolUseCount   int
	CreatedAt      time.Time
}

// Validate enforces the chunk invariants from the data model: turn indices
// must be nonempty and sorted ascending, and the span must not run backward.
func (c Chunk) Validate() error {
	if len(c.TurnIndices) == 0 {
		return causalerr.ErrEmptyTurnIndices
	}
	if !sort.IntsAreSorted(c.TurnIndices) {
		return causalerr.ErrUnsortedTurnIndices
	}
	if c.EndTime.Before(c.StartTime) {
		return causalerr.ErrEndBeforeStart
	}
	return nil
}

// Edge is a directed causal or referential link between two chunks.
type Edge struct {
	ID            string
	SourceChunkID string
	TargetChunkID string
	Direction     Direction
	ReferenceType ReferenceType
	InitialWeight float64
	LinkCount     int
	CreatedAt     time.Time
	Clock         map[string]int64 // vector clock stamped at creation time
}

// Key returns the uniqueness tuple for the edge: (source, target, direction).
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.SourceChunkID, Target: e.TargetChunkID, Direction: e.Direction}
}

// EdgeKey is the natural uniqueness key for an edge.
type EdgeKey struct {
	Source    string
	Target    string
	Direction Direction
}

// VectorRecord is the in-memory mirror of a persisted embedding blob.
type VectorRecord struct {
	ChunkID      string
	Embedding    []float32
	OrphanedAt   *time.Time
	LastAccessed time.Time
}

// IsOrphaned reports whether the chunk backing this vector has been deleted.
func (v VectorRecord) IsOrphaned() bool { return v.OrphanedAt != nil }

// Cluster is a named grouping of chunks produced by HDBSCAN.
type Cluster struct {
	ID              string
	Name            string
	Description     string
	Centroid        []float32
	ExemplarIDs     []string
	MembershipHash  string
	RefreshedAt     *time.Time
	CreatedAt       time.Time
}

// ClusterMember is a chunk's membership in a cluster with its angular
// distance to the cluster centroid at assignment time.
type ClusterMember struct {
	ChunkID   string
	ClusterID string
	Distance  float64
}

// VectorClock maps agent id to a non-negative logical tick.
type VectorClock map[string]int64

// Clone returns a deep copy of the clock.
func (c VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Embedder is the external collaborator that turns text into embeddings.
// Implementations may batch internally or call out to a remote model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkSource is the external transcript parser's contract: it hands the
// kernel already-chunked conversation spans ready for ingestion.
type ChunkSource interface {
	NextChunk(ctx context.Context) (Chunk, bool, error)
}

// MaintenanceTrigger is the external hook runner / CLI / cron contract that
// drives asynchronous maintenance (full prune, re-cluster) on events such as
// session-end.
type MaintenanceTrigger interface {
	OnSessionEnd(ctx context.Context, sessionID string) error
	OnSchedule(ctx context.Context) error
}
