package databases

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool creates a Postgres connection pool using the standard defaults.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return newPgPool(ctx, dsn)
}

// pgxBatcher is a minimal batched-exec helper used by the cluster store's
// bulk membership assignment, grounded on pgx/v5's native pgx.Batch type.
type pgxBatcher struct {
	pool  *pgxpool.Pool
	batch pgx.Batch
}

func (b *pgxBatcher) queue(sql string, args ...any) {
	b.batch.Queue(sql, args...)
}

func (b *pgxBatcher) run(ctx context.Context) error {
	if b.batch.Len() == 0 {
		return nil
	}
	br := b.pool.SendBatch(ctx, &b.batch)
	defer br.Close()
	for i := 0; i < b.batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
