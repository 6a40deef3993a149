package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a processed_tasks table with taskID as its
// primary key, so MarkProcessed is naturally idempotent under ON CONFLICT.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres builds a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) IsProcessed(ctx context.Context, taskID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS(SELECT 1 FROM processed_tasks WHERE task_id = $1)`
	if err := p.pool.QueryRow(ctx, query, taskID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("inbox: is processed %s: %w", taskID, err)
	}
	return exists, nil
}

func (p *Postgres) MarkProcessed(ctx context.Context, taskID string, processedAt time.Time) error {
	const query = `
		INSERT INTO processed_tasks (task_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (task_id) DO NOTHING
	`
	if _, err := p.pool.Exec(ctx, query, taskID, processedAt); err != nil {
		return fmt.Errorf("inbox: mark processed %s: %w", taskID, err)
	}
	return nil
}
