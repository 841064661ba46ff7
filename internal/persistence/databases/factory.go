package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entrolution/causalmem/internal/config"
)

// NewManager constructs the chunk/edge/vector/cluster/clock store backends
// from configuration, grounded on the teacher's factory.go
// switch-on-backend-string pattern (there: per-concern Search/Vector/Graph
// backend selection; here: one backend choice shared by the five causal
// memory stores, since they are always co-located in the same database).
func NewManager(ctx context.Context, cfg config.StoreConfig) (Manager, error) {
	switch cfg.Backend {
	case "", "memory":
		edges := NewMemoryEdgeStore()
		vectors := NewMemoryVectorRowStore()
		clusters := NewMemoryClusterStore()
		chunks := NewMemoryChunkStore(memoryChunkCascade(edges, vectors, clusters))
		return Manager{
			Chunks:   chunks,
			Edges:    edges,
			Vectors:  vectors,
			Clusters: clusters,
			Clocks:   NewMemoryClockStore(),
		}, nil
	case "postgres", "pg":
		if cfg.DSN == "" {
			return Manager{}, fmt.Errorf("store backend postgres requires a DSN")
		}
		pool, err := newPgPoolWithMax(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres store: %w", err)
		}
		return Manager{
			Chunks:   NewPostgresChunkStore(pool),
			Edges:    NewPostgresEdgeStore(pool),
			Vectors:  NewPostgresVectorRowStore(pool),
			Clusters: NewPostgresClusterStore(pool, cfg.Dimensions),
			Clocks:   NewPostgresClockStore(pool),
		}, nil
	default:
		return Manager{}, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// memoryChunkCascade wires the in-memory chunk store's delete cascade: edges
// touching the chunk are removed and the chunks they lead to are re-checked
// for now-empty-edge orphaning of their vectors, the chunk's cluster
// memberships are dropped (emptied clusters removed), and the chunk's own
// vector is marked orphaned (not deleted — it remains searchable until TTL,
// per the chunk lifecycle state machine).
func memoryChunkCascade(edges EdgeStore, vectors VectorRowStore, clusters ClusterStore) func(context.Context, string) error {
	return func(ctx context.Context, chunkID string) error {
		if me, ok := edges.(*memoryEdges); ok {
			touched := me.DeleteByChunk(ctx, chunkID)
			var toOrphan []string
			for _, other := range touched {
				outgoing, _ := edges.GetOutgoing(ctx, other, "")
				incoming, _ := edges.GetIncoming(ctx, other, "")
				if len(outgoing) == 0 && len(incoming) == 0 {
					toOrphan = append(toOrphan, other)
				}
			}
			if len(toOrphan) > 0 {
				_ = vectors.MarkOrphaned(ctx, toOrphan, time.Now())
			}
		}
		if mc, ok := clusters.(*memoryClusters); ok {
			affected := mc.RemoveChunk(ctx, chunkID)
			for _, clusterID := range affected {
				_, _ = clusters.DeleteIfEmpty(ctx, clusterID)
			}
		}
		return vectors.MarkOrphaned(ctx, []string{chunkID}, time.Now())
	}
}

func newPgPoolWithMax(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	parsed, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns <= 0 {
		maxConns = 8
	}
	parsed.MaxConns = maxConns
	parsed.MinConns = 0
	parsed.MaxConnLifetime = time.Hour
	parsed.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, parsed)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return newPgPoolWithMax(ctx, dsn, 8)
}
