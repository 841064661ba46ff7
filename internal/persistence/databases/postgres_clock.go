package databases

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vclock"
)

// pgClockStore is the Postgres-backed ClockStore, grounded on the spec's
// vector_clocks(id, project_slug, clock_data, updated_at) table, using the
// `project:<slug>` / `agent:<slug>:<agent>` id scheme from the persisted
// state section.
type pgClockStore struct{ pool *pgxpool.Pool }

func NewPostgresClockStore(pool *pgxpool.Pool) ClockStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS vector_clocks (
  id TEXT PRIMARY KEY,
  project_slug TEXT NOT NULL,
  clock_data JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS vector_clocks_project ON vector_clocks(project_slug)`)
	return &pgClockStore{pool: pool}
}

func (p *pgClockStore) Close() { p.pool.Close() }

func referenceClockID(slug string) string    { return "project:" + slug }
func agentClockID(slug, agent string) string { return "agent:" + slug + ":" + agent }

func (p *pgClockStore) getClock(ctx context.Context, id string) (types.VectorClock, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT clock_data FROM vector_clocks WHERE id=$1`, id).Scan(&raw)
	if err != nil {
		return types.VectorClock{}, nil
	}
	var m map[string]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return types.VectorClock{}, causalerr.New(causalerr.KindStorage, "pgClockStore.getClock", err)
	}
	return vclock.FromJSON(m)
}

func (p *pgClockStore) setClock(ctx context.Context, id, slug string, clock types.VectorClock) error {
	raw, err := json.Marshal(vclock.ToJSON(clock))
	if err != nil {
		return causalerr.New(causalerr.KindValidation, "pgClockStore.setClock", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO vector_clocks(id, project_slug, clock_data, updated_at) VALUES($1,$2,$3,now())
ON CONFLICT (id) DO UPDATE SET clock_data=EXCLUDED.clock_data, updated_at=now()
`, id, slug, raw)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgClockStore.setClock", err)
	}
	return nil
}

func (p *pgClockStore) GetReferenceClock(ctx context.Context, projectSlug string) (types.VectorClock, error) {
	return p.getClock(ctx, referenceClockID(projectSlug))
}

func (p *pgClockStore) SetReferenceClock(ctx context.Context, projectSlug string, clock types.VectorClock) error {
	return p.setClock(ctx, referenceClockID(projectSlug), projectSlug, clock)
}

func (p *pgClockStore) GetAgentClock(ctx context.Context, projectSlug, agent string) (types.VectorClock, error) {
	return p.getClock(ctx, agentClockID(projectSlug, agent))
}

func (p *pgClockStore) UpdateAgentClock(ctx context.Context, projectSlug, agent string, clock types.VectorClock) error {
	return p.setClock(ctx, agentClockID(projectSlug, agent), projectSlug, clock)
}

func (p *pgClockStore) GetAllAgentClocks(ctx context.Context, projectSlug string) (map[string]types.VectorClock, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, clock_data FROM vector_clocks WHERE project_slug=$1 AND id LIKE 'agent:%'`, projectSlug)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgClockStore.GetAllAgentClocks", err)
	}
	defer rows.Close()
	prefix := "agent:" + projectSlug + ":"
	out := make(map[string]types.VectorClock)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "pgClockStore.GetAllAgentClocks", err)
		}
		if len(id) <= len(prefix) {
			continue
		}
		agent := id[len(prefix):]
		var m map[string]float64
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "pgClockStore.GetAllAgentClocks", err)
		}
		clock, err := vclock.FromJSON(m)
		if err != nil {
			return nil, err
		}
		out[agent] = clock
	}
	return out, rows.Err()
}

func (p *pgClockStore) DeleteProjectClocks(ctx context.Context, projectSlug string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM vector_clocks WHERE project_slug=$1`, projectSlug)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgClockStore.DeleteProjectClocks", err)
	}
	return nil
}

func (p *pgClockStore) LastUpdateTime(ctx context.Context, projectSlug string) (time.Time, bool, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM vector_clocks WHERE project_slug=$1`, projectSlug).Scan(&t)
	if err != nil || t.IsZero() {
		return time.Time{}, false, nil
	}
	return t, true, nil
}
