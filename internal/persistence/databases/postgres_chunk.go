package databases

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
)

// pgChunks is the Postgres-backed ChunkStore, grounded on the teacher's
// postgres_graph.go/postgres_vector.go DDL-on-construct pattern, with the
// table shape from the specification's persisted-state section.
type pgChunks struct{ pool *pgxpool.Pool }

// NewPostgresChunkStore ensures the chunks table and its secondary indices
// exist and returns a ChunkStore backed by pool.
func NewPostgresChunkStore(pool *pgxpool.Pool) ChunkStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chunks (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  session_slug TEXT NOT NULL,
  turn_indices JSONB NOT NULL,
  start_time TIMESTAMPTZ NOT NULL,
  end_time TIMESTAMPTZ NOT NULL,
  content TEXT NOT NULL,
  code_block_count INT NOT NULL DEFAULT 0,
  tool_use_count INT NOT NULL DEFAULT 0,
  approx_tokens INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  agent_id TEXT,
  spawn_depth INT NOT NULL DEFAULT 0,
  project_path TEXT,
  team_name TEXT
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_session_id ON chunks(session_id)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_session_slug ON chunks(session_slug)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_start_time ON chunks(start_time)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_slug_start ON chunks(session_slug, start_time)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_agent_id ON chunks(agent_id)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_team_name ON chunks(team_name)`)
	return &pgChunks{pool: pool}
}

func (p *pgChunks) Close() { p.pool.Close() }

func (p *pgChunks) Insert(ctx context.Context, c types.Chunk) error {
	if err := c.Validate(); err != nil {
		return causalerr.New(causalerr.KindValidation, "pgChunks.Insert", err)
	}
	turns, err := json.Marshal(c.TurnIndices)
	if err != nil {
		return causalerr.New(causalerr.KindValidation, "pgChunks.Insert", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO chunks(id, session_id, session_slug, turn_indices, start_time, end_time, content,
  code_block_count, tool_use_count, approx_tokens, created_at, agent_id, spawn_depth, project_path, team_name)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  session_id=EXCLUDED.session_id, session_slug=EXCLUDED.session_slug, turn_indices=EXCLUDED.turn_indices,
  start_time=EXCLUDED.start_time, end_time=EXCLUDED.end_time, content=EXCLUDED.content,
  code_block_count=EXCLUDED.code_block_count, tool_use_count=EXCLUDED.tool_use_count,
  approx_tokens=EXCLUDED.approx_tokens, agent_id=EXCLUDED.agent_id, spawn_depth=EXCLUDED.spawn_depth,
  project_path=EXCLUDED.project_path, team_name=EXCLUDED.team_name
`, c.ID, c.SessionID, c.SessionSlug, turns, c.StartTime, c.EndTime, c.Content,
		c.CodeBlockCount, c.ToolUseCount, c.ApproxTokens, c.CreatedAt, nullable(c.AgentID), c.SpawnDepth, nullable(c.ProjectPath), nullable(c.TeamName))
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgChunks.Insert", err)
	}
	return nil
}

func (p *pgChunks) BulkInsert(ctx context.Context, cs []types.Chunk) error {
	for _, c := range cs {
		if err := p.Insert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (p *pgChunks) Get(ctx context.Context, id string) (types.Chunk, bool, error) {
	row := p.pool.QueryRow(ctx, chunkSelectCols+` FROM chunks WHERE id=$1`, id)
	c, err := scanChunk(row)
	if err != nil {
		return types.Chunk{}, false, nil
	}
	return c, true, nil
}

func (p *pgChunks) GetBatch(ctx context.Context, ids []string) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, chunkSelectCols+` FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgChunks.GetBatch", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (p *pgChunks) GetBySession(ctx context.Context, sessionID string) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, chunkSelectCols+` FROM chunks WHERE session_id=$1 ORDER BY start_time ASC`, sessionID)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgChunks.GetBySession", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (p *pgChunks) GetByProject(ctx context.Context, projectPath string) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, chunkSelectCols+` FROM chunks WHERE project_path=$1 ORDER BY start_time ASC`, projectPath)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgChunks.GetByProject", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (p *pgChunks) GetByTimeRange(ctx context.Context, projectPath string, from, to time.Time, sessionID string, limit int) ([]types.Chunk, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.pool.Query(ctx, chunkSelectCols+`
FROM chunks
WHERE (project_path=$1 OR $1='') AND start_time >= $2 AND start_time < $3 AND (session_id=$4 OR $4='')
ORDER BY start_time ASC LIMIT $5`, projectPath, from, to, sessionID, limit)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgChunks.GetByTimeRange", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (p *pgChunks) ListSessions(ctx context.Context, projectPath string) ([]SessionSummary, error) {
	rows, err := p.pool.Query(ctx, `
SELECT session_id, MIN(session_slug), COUNT(*), COALESCE(SUM(approx_tokens),0), MIN(start_time), MAX(end_time)
FROM chunks WHERE (project_path=$1 OR $1='')
GROUP BY session_id ORDER BY MIN(start_time) ASC`, projectPath)
	if err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "pgChunks.ListSessions", err)
	}
	defer rows.Close()
	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.SessionSlug, &s.ChunkCount, &s.TotalTokens, &s.FirstStart, &s.LastEnd); err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "pgChunks.ListSessions", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *pgChunks) FindPreviousSession(ctx context.Context, projectPath string, beforeEnd time.Time) (SessionSummary, bool, error) {
	sessions, err := p.ListSessions(ctx, projectPath)
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

func (p *pgChunks) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE id=$1`, id)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "pgChunks.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return causalerr.New(causalerr.KindNotFound, "pgChunks.Delete", causalerr.ErrUnknownChunk)
	}
	if _, err := p.pool.Exec(ctx, `UPDATE vectors SET orphaned_at=now() WHERE id=$1`, id); err != nil {
		return causalerr.New(causalerr.KindStorage, "pgChunks.Delete", err)
	}
	return nil
}

const chunkSelectCols = `SELECT id, session_id, session_slug, turn_indices, start_time, end_time, content,
  code_block_count, tool_use_count, approx_tokens, created_at, agent_id, spawn_depth, project_path, team_name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (types.Chunk, error) {
	var c types.Chunk
	var turns []byte
	var agentID, projectPath, teamName *string
	if err := row.Scan(&c.ID, &c.SessionID, &c.SessionSlug, &turns, &c.StartTime, &c.EndTime, &c.Content,
		&c.CodeBlockCount, &c.ToolUseCount, &c.ApproxTokens, &c.CreatedAt, &agentID, &c.SpawnDepth, &projectPath, &teamName); err != nil {
		return types.Chunk{}, err
	}
	_ = json.Unmarshal(turns, &c.TurnIndices)
	c.AgentID = deref(agentID)
	c.ProjectPath = deref(projectPath)
	c.TeamName = deref(teamName)
	return c, nil
}

type rowsIterator interface {
	Next() bool
	Err() error
	rowScanner
}

func scanChunks(rows rowsIterator) ([]types.Chunk, error) {
	var out []types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, causalerr.New(causalerr.KindStorage, "scanChunks", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "scanChunks", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
