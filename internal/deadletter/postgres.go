package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a dead_letters table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres builds a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Save(ctx context.Context, entry Entry) error {
	taskJSON, err := json.Marshal(entry.OriginalTask)
	if err != nil {
		return fmt.Errorf("deadletter: marshal task: %w", err)
	}

	const query = `
		INSERT INTO dead_letters (id, original_task, reason, exception_type, message, stack, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.pool.Exec(ctx, query,
		entry.ID, taskJSON, entry.Reason, entry.ExceptionType, entry.Message, entry.Stack, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("deadletter: insert %s: %w", entry.ID, err)
	}
	return nil
}

func (p *Postgres) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	const query = `DELETE FROM dead_letters WHERE created_at < $1`
	tag, err := p.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("deadletter: cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	const query = `
		SELECT id, original_task, reason, exception_type, message, stack, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := p.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("deadletter: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var taskJSON []byte
		if err := rows.Scan(&e.ID, &taskJSON, &e.Reason, &e.ExceptionType, &e.Message, &e.Stack, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("deadletter: scan: %w", err)
		}
		if err := json.Unmarshal(taskJSON, &e.OriginalTask); err != nil {
			return nil, fmt.Errorf("deadletter: unmarshal task: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
