package delayed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Postgres is a Store backed by a delayed_messages table indexed on
// delivery_time, so FetchDue's range scan and NextDeliveryTime's min-scan
// are both efficient.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres builds a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Insert(ctx context.Context, msg domain.TaskMessage, deliveryTime time.Time) (string, error) {
	taskJSON, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("delayed: marshal task message: %w", err)
	}
	id := domain.NewID()
	const query = `
		INSERT INTO delayed_messages (id, task_message, delivery_time)
		VALUES ($1, $2, $3)
	`
	if _, err := p.pool.Exec(ctx, query, id, taskJSON, deliveryTime); err != nil {
		return "", fmt.Errorf("delayed: insert: %w", err)
	}
	return id, nil
}

func (p *Postgres) FetchDue(ctx context.Context, now time.Time, limit int) ([]DelayedMessage, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("delayed: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQuery = `
		SELECT id, task_message, delivery_time
		FROM delayed_messages
		WHERE delivery_time <= $1
		ORDER BY delivery_time ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, selectQuery, now, limit)
	if err != nil {
		return nil, fmt.Errorf("delayed: fetch due: %w", err)
	}

	var due []DelayedMessage
	var ids []string
	for rows.Next() {
		var row DelayedMessage
		var taskJSON []byte
		if err := rows.Scan(&row.ID, &taskJSON, &row.DeliveryTime); err != nil {
			rows.Close()
			return nil, fmt.Errorf("delayed: scan row: %w", err)
		}
		if err := json.Unmarshal(taskJSON, &row.TaskMessage); err != nil {
			rows.Close()
			return nil, fmt.Errorf("delayed: unmarshal task message: %w", err)
		}
		due = append(due, row)
		ids = append(ids, row.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		const deleteQuery = `DELETE FROM delayed_messages WHERE id = ANY($1)`
		if _, err := tx.Exec(ctx, deleteQuery, ids); err != nil {
			return nil, fmt.Errorf("delayed: delete fetched: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("delayed: commit: %w", err)
	}
	return due, nil
}

func (p *Postgres) NextDeliveryTime(ctx context.Context) (time.Time, bool, error) {
	var t *time.Time
	const query = `SELECT MIN(delivery_time) FROM delayed_messages`
	if err := p.pool.QueryRow(ctx, query).Scan(&t); err != nil {
		return time.Time{}, false, fmt.Errorf("delayed: next delivery time: %w", err)
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return *t, true, nil
}

func (p *Postgres) Reinsert(ctx context.Context, msg DelayedMessage, deliveryTime time.Time) error {
	taskJSON, err := json.Marshal(msg.TaskMessage)
	if err != nil {
		return fmt.Errorf("delayed: marshal task message: %w", err)
	}
	const query = `
		INSERT INTO delayed_messages (id, task_message, delivery_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET delivery_time = EXCLUDED.delivery_time
	`
	if _, err := p.pool.Exec(ctx, query, msg.ID, taskJSON, deliveryTime); err != nil {
		return fmt.Errorf("delayed: reinsert: %w", err)
	}
	return nil
}
