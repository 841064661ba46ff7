package databases

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
)

// pgClusters is the Postgres-backed ClusterStore. The centroid column uses
// pgvector-go's Vector wrapper for a real `vector(dim)` column — the
// clustering write path is the one place a pgvector typed column earns its
// keep, since the angular math and the brute-force nearest-centroid scan it
// supports still run in Go (internal/causal/hdbscan, internal/causal/clustermgr).
// A freshly materialized cluster has no centroid until its first member is
// assigned, so the column is read back as text and parsed, rather than
// scanned straight into pgvector.Vector, to tolerate SQL NULL cleanly.
type pgClusters struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresClusterStore(pool *pgxpool.Pool, dimensions int) ClusterStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	vectorType := "vector"
	if dimensions > 0 {
		vectorType = fmt.Sprintf("vector(%d)", dimensions)
	}
	_, _ = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS clusters (
  id TEXT PRIMARY KEY,
  name TEXT,
  description TEXT,
  centroid %s,
  exemplar_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
  membership_hash TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  refreshed_at TIMESTAMPTZ
);
`, vectorType))
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chunk_clusters (
  chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
  cluster_id TEXT NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
  distance DOUBLE PRECISION NOT NULL,
  PRIMARY KEY(chunk_id, cluster_id)
);
`)
	return &pgClusters{pool: pool, dim: dimensions}
}

func (p *pgClusters) Close() { p.pool.Close() }

func (p *pgClusters) UpsertCluster(ctx context.Context, c types.Cluster) (types.Cluster, error) {
	exemplars, err := json.Marshal(c.ExemplarIDs)
	if err != nil {
		return types.Cluster{}, causalerr.New(causalerr.KindValidation, "pgClusters.UpsertCluster", err)
	}
	var centroid any
	if len(c.Centroid) > 0 {
		centroid = pgvector.NewVector(c.Centroid)
	}
	row := p.pool.QueryRow(ctx, `
INSERT INTO clusters(id, name, description, centroid, exemplar_ids, membership_hash, created_at, refreshed_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  name = COALESCE(NULLIF(EXCLUDED.name, ''), clusters.name),
  description = COALESCE(NULLIF(EXCLUDED.description, ''), clusters.description),
  centroid = COALESCE(EXCLUDED.centroid, clusters.centroid),
  exemplar_ids = CASE WHEN EXCLUDED.exemplar_ids = '[]'::jsonb THEN clusters.exemplar_ids ELSE EXCLUDED.exemplar_ids END,
  membership_hash = COALESCE(NULLIF(EXCLUDED.membership_hash, ''), clusters.membership_hash),
  refreshed_at = COALESCE(EXCLUDED.refreshed_at, clusters.refreshed_at)
RETURNING id, name, description, centroid::text, exemplar_ids, membership_hash, created_at, refreshed_at
`, c.ID, c.Name, c.Description, centroid, exemplars, c.MembershipHash, c.CreatedAt, c.RefreshedAt)
	out, err := scanCluster(row)
	if err != nil {
		return types.Cluster{}, causalerr.New(causalerr.KindStorage, "pgClusters.UpsertCluster", err)
	}
	return out, nil
}

func (p *pgClusters) AssignChunksToClusters(ctx context.Context, members []types.ClusterMember) error {
	batch := &pgxBatcher{pool: p.pool}
	for _, m := range members {
		batch.queue(`
INSERT INTO chunk_clusters(chunk_id, cluster_id, distance) VALUES($1,$2,$3)
ON CONFLICT (chunk_id, cluster_id) DO UPDATE SET distance=EXCLUDED.distance`, m.ChunkID, m.ClusterID, m.Distance)
	}
	if err := batch.run(ctx); err != nil {
		return causalerr.New(causalerr.KindStorage, "pgClusters.AssignChunksToClusters", err)
	}
	return nil
}

func (p *pgClusters) ClearAll(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM chunk_clusters`); err != nil {
		return causalerr.New(causalerr.KindStorage, "pgClusters.ClearAll", err)
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM clusters`); err != nil {
		return causalerr.New(causalerr.KindStorage, "pgClusters.ClearAll", err)
	}
	return nil
}

func (p *pgClusters) GetAll(ctx context.Context) ([]types.Cluster, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, description, centroid::text, exemplar_ids, membership_hash, created_at, refreshed_at FROM clusters`)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgClusters.GetAll", err)
	}
	defer rows.Close()
	var out []types.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "pgClusters.GetAll", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *pgClusters) GetClusterChunkIDs(ctx context.Context, clusterID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT chunk_id FROM chunk_clusters WHERE cluster_id=$1`, clusterID)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgClusters.GetClusterChunkIDs", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "pgClusters.GetClusterChunkIDs", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *pgClusters) DeleteIfEmpty(ctx context.Context, clusterID string) (bool, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_clusters WHERE cluster_id=$1`, clusterID).Scan(&count); err != nil {
		return false, causalerr.New(causalerr.KindStorage, "pgClusters.DeleteIfEmpty", err)
	}
	if count > 0 {
		return false, nil
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM clusters WHERE id=$1`, clusterID); err != nil {
		return false, causalerr.New(causalerr.KindStorage, "pgClusters.DeleteIfEmpty", err)
	}
	return true, nil
}

func scanCluster(row rowScanner) (types.Cluster, error) {
	var c types.Cluster
	var centroid *string
	var exemplars []byte
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &centroid, &exemplars, &c.MembershipHash, &c.CreatedAt, &c.RefreshedAt); err != nil {
		return types.Cluster{}, err
	}
	if centroid != nil {
		v, err := parseVectorText(*centroid)
		if err != nil {
			return types.Cluster{}, fmt.Errorf("parse centroid: %w", err)
		}
		c.Centroid = v
	}
	_ = json.Unmarshal(exemplars, &c.ExemplarIDs)
	return c, nil
}

// parseVectorText parses pgvector's text output format, e.g. "[0.1,0.2,0.3]".
func parseVectorText(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}
