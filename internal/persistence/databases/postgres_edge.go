package databases

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/google/uuid"
)

// pgEdges is the Postgres-backed EdgeStore, grounded on the teacher's
// postgres_graph.go upsert-on-conflict pattern, adapted to the spec's
// (source,target,edge_type) uniqueness tuple and link_count increment.
type pgEdges struct{ pool *pgxpool.Pool }

func NewPostgresEdgeStore(pool *pgxpool.Pool) EdgeStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS edges (
  id TEXT PRIMARY KEY,
  source_chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
  target_chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
  edge_type TEXT NOT NULL,
  reference_type TEXT,
  initial_weight DOUBLE PRECISION NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  link_count INT NOT NULL DEFAULT 1,
  clock_data JSONB NOT NULL DEFAULT '{}'::jsonb,
  UNIQUE(source_chunk_id, target_chunk_id, edge_type)
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS edges_source_type ON edges(source_chunk_id, edge_type)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS edges_target_type ON edges(target_chunk_id, edge_type)`)
	return &pgEdges{pool: pool}
}

func (p *pgEdges) Close() { p.pool.Close() }

func (p *pgEdges) Upsert(ctx context.Context, e types.Edge) (types.Edge, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.LinkCount <= 0 {
		e.LinkCount = 1
	}
	clockJSON, err := json.Marshal(e.Clock)
	if err != nil {
		return types.Edge{}, causalerr.New(causalerr.KindValidation, "pgEdges.Upsert", err)
	}
	row := p.pool.QueryRow(ctx, `
INSERT INTO edges(id, source_chunk_id, target_chunk_id, edge_type, reference_type, initial_weight, created_at, link_count, clock_data)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (source_chunk_id, target_chunk_id, edge_type) DO UPDATE SET
  reference_type=EXCLUDED.reference_type, initial_weight=EXCLUDED.initial_weight,
  link_count=edges.link_count + 1, clock_data=EXCLUDED.clock_data
RETURNING id, source_chunk_id, target_chunk_id, edge_type, reference_type, initial_weight, created_at, link_count, clock_data
`, e.ID, e.SourceChunkID, e.TargetChunkID, string(e.Direction), string(e.ReferenceType), e.InitialWeight, e.CreatedAt, e.LinkCount, clockJSON)
	out, err := scanEdge(row)
	if err != nil {
		return types.Edge{}, causalerr.New(causalerr.KindStorage, "pgEdges.Upsert", err)
	}
	return out, nil
}

func (p *pgEdges) GetAll(ctx context.Context) ([]types.Edge, error) {
	rows, err := p.pool.Query(ctx, edgeSelectCols+` FROM edges`)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgEdges.GetAll", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// GetOutgoing returns edges sourced at chunkID; an empty direction matches
// either direction.
func (p *pgEdges) GetOutgoing(ctx context.Context, chunkID string, direction types.Direction) ([]types.Edge, error) {
	rows, err := p.pool.Query(ctx, edgeSelectCols+` FROM edges WHERE source_chunk_id=$1 AND ($2='' OR edge_type=$2)`, chunkID, string(direction))
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgEdges.GetOutgoing", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// GetIncoming returns edges targeting chunkID; an empty direction matches
// either direction.
func (p *pgEdges) GetIncoming(ctx context.Context, chunkID string, direction types.Direction) ([]types.Edge, error) {
	rows, err := p.pool.Query(ctx, edgeSelectCols+` FROM edges WHERE target_chunk_id=$1 AND ($2='' OR edge_type=$2)`, chunkID, string(direction))
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgEdges.GetIncoming", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (p *pgEdges) GetByDirection(ctx context.Context, direction types.Direction) ([]types.Edge, error) {
	rows, err := p.pool.Query(ctx, edgeSelectCols+` FROM edges WHERE edge_type=$1`, string(direction))
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgEdges.GetByDirection", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (p *pgEdges) DeleteBySourceChunks(ctx context.Context, sourceChunkIDs []string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM edges WHERE source_chunk_id = ANY($1)`, sourceChunkIDs)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgEdges.DeleteBySourceChunks", err)
	}
	return nil
}

func (p *pgEdges) BatchDeleteByIDs(ctx context.Context, ids []string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM edges WHERE id = ANY($1)`, ids)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgEdges.BatchDeleteByIDs", err)
	}
	return nil
}

const edgeSelectCols = `SELECT id, source_chunk_id, target_chunk_id, edge_type, reference_type, initial_weight, created_at, link_count, clock_data`

func scanEdge(row rowScanner) (types.Edge, error) {
	var e types.Edge
	var direction, refType string
	var refTypePtr *string
	var clockJSON []byte
	if err := row.Scan(&e.ID, &e.SourceChunkID, &e.TargetChunkID, &direction, &refTypePtr, &e.InitialWeight, &e.CreatedAt, &e.LinkCount, &clockJSON); err != nil {
		return types.Edge{}, err
	}
	if refTypePtr != nil {
		refType = *refTypePtr
	}
	e.Direction = types.Direction(direction)
	e.ReferenceType = types.ReferenceType(refType)
	_ = json.Unmarshal(clockJSON, &e.Clock)
	return e, nil
}

func scanEdges(rows rowsIterator) ([]types.Edge, error) {
	var out []types.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "scanEdges", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "scanEdges", err)
	}
	return out, nil
}
