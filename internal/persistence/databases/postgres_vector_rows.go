package databases

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
)

// pgVectorRows is the Postgres-backed VectorRowStore, storing the embedding
// as the little-endian float32 BLOB the specification's persisted-state
// section calls for (distinct from pgClusters' typed pgvector column, which
// exists to back a different concern: cluster centroids). Grounded on the
// teacher's postgres_vector.go for the DDL-on-construct idiom; the
// similarity search itself moved out to internal/causal/vectorindex.
type pgVectorRows struct{ pool *pgxpool.Pool }

func NewPostgresVectorRowStore(pool *pgxpool.Pool) VectorRowStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS vectors (
  id TEXT PRIMARY KEY,
  embedding BYTEA NOT NULL,
  orphaned_at TIMESTAMPTZ,
  last_accessed TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return &pgVectorRows{pool: pool}
}

func (p *pgVectorRows) Close() { p.pool.Close() }

// EncodeEmbedding packs a float32 embedding as little-endian IEEE-754
// bytes, per the specification's embedding blob format.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding.
func DecodeEmbedding(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func (p *pgVectorRows) Put(ctx context.Context, rec types.VectorRecord) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO vectors(id, embedding, orphaned_at, last_accessed) VALUES($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET embedding=EXCLUDED.embedding, orphaned_at=EXCLUDED.orphaned_at, last_accessed=EXCLUDED.last_accessed
`, rec.ChunkID, EncodeEmbedding(rec.Embedding), rec.OrphanedAt, rec.LastAccessed)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgVectorRows.Put", err)
	}
	return nil
}

func (p *pgVectorRows) PutBatch(ctx context.Context, recs []types.VectorRecord) error {
	batch := &pgxBatcher{pool: p.pool}
	for _, r := range recs {
		batch.queue(`
INSERT INTO vectors(id, embedding, orphaned_at, last_accessed) VALUES($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET embedding=EXCLUDED.embedding, orphaned_at=EXCLUDED.orphaned_at, last_accessed=EXCLUDED.last_accessed`,
			r.ChunkID, EncodeEmbedding(r.Embedding), r.OrphanedAt, r.LastAccessed)
	}
	if err := batch.run(ctx); err != nil {
		return causalerr.New(causalerr.KindStorage, "pgVectorRows.PutBatch", err)
	}
	return nil
}

func (p *pgVectorRows) Get(ctx context.Context, chunkID string) (types.VectorRecord, bool, error) {
	var raw []byte
	var orphanedAt *time.Time
	var lastAccessed time.Time
	err := p.pool.QueryRow(ctx, `SELECT embedding, orphaned_at, last_accessed FROM vectors WHERE id=$1`, chunkID).
		Scan(&raw, &orphanedAt, &lastAccessed)
	if err != nil {
		return types.VectorRecord{}, false, nil
	}
	return types.VectorRecord{ChunkID: chunkID, Embedding: DecodeEmbedding(raw), OrphanedAt: orphanedAt, LastAccessed: lastAccessed}, true, nil
}

func (p *pgVectorRows) Delete(ctx context.Context, chunkID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM vectors WHERE id=$1`, chunkID); err != nil {
		return causalerr.New(causalerr.KindStorage, "pgVectorRows.Delete", err)
	}
	return nil
}

func (p *pgVectorRows) DeleteBatch(ctx context.Context, chunkIDs []string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM vectors WHERE id = ANY($1)`, chunkIDs); err != nil {
		return causalerr.New(causalerr.KindStorage, "pgVectorRows.DeleteBatch", err)
	}
	return nil
}

func (p *pgVectorRows) GetAll(ctx context.Context) ([]types.VectorRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, embedding, orphaned_at, last_accessed FROM vectors`)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgVectorRows.GetAll", err)
	}
	defer rows.Close()
	var out []types.VectorRecord
	for rows.Next() {
		var id string
		var raw []byte
		var orphanedAt *time.Time
		var lastAccessed time.Time
		if err := rows.Scan(&id, &raw, &orphanedAt, &lastAccessed); err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "pgVectorRows.GetAll", err)
		}
		out = append(out, types.VectorRecord{ChunkID: id, Embedding: DecodeEmbedding(raw), OrphanedAt: orphanedAt, LastAccessed: lastAccessed})
	}
	return out, rows.Err()
}

func (p *pgVectorRows) MarkOrphaned(ctx context.Context, chunkIDs []string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE vectors SET orphaned_at=$2 WHERE id = ANY($1)`, chunkIDs, at)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgVectorRows.MarkOrphaned", err)
	}
	return nil
}

func (p *pgVectorRows) TouchAccessed(ctx context.Context, chunkIDs []string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE vectors SET last_accessed=$2 WHERE id = ANY($1)`, chunkIDs, at)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgVectorRows.TouchAccessed", err)
	}
	return nil
}
