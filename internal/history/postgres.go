package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a task_history table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres builds a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Record(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO task_history (task_id, task_name, queue, state, retries, error, duration_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := p.pool.Exec(ctx, query,
		rec.TaskID, rec.TaskName, rec.Queue, rec.State, rec.Retries,
		rec.Error, rec.Duration.Milliseconds(), rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

func (p *Postgres) ListByTaskID(ctx context.Context, taskID string) ([]Record, error) {
	const query = `
		SELECT task_id, task_name, queue, state, retries, error, duration_ms, completed_at
		FROM task_history
		WHERE task_id = $1
		ORDER BY completed_at ASC
	`
	rows, err := p.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("history: list by task id: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var durationMS int64
		if err := rows.Scan(
			&rec.TaskID, &rec.TaskName, &rec.Queue, &rec.State,
			&rec.Retries, &rec.Error, &durationMS, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	const query = `DELETE FROM task_history WHERE completed_at < $1`
	result, err := p.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	return int(result.RowsAffected()), nil
}
