package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Postgres is a Store backed by an outbox_messages table with a
// database-assigned bigserial sequence_number column, so FetchPending's
// ORDER BY sequence_number is always consistent with insertion order.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres builds a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Save(ctx context.Context, msg *domain.OutboxMessage) error {
	taskJSON, err := json.Marshal(msg.TaskMessage)
	if err != nil {
		return fmt.Errorf("outbox: marshal task message: %w", err)
	}

	const query = `
		INSERT INTO outbox_messages (id, task_message, status, attempts, created_at)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING sequence_number
	`
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Status = domain.OutboxPending
	msg.Attempts = 0

	if err := p.pool.QueryRow(ctx, query, msg.ID, taskJSON, msg.Status, msg.CreatedAt).Scan(&msg.SequenceNumber); err != nil {
		return fmt.Errorf("outbox: insert: %w", err)
	}
	return nil
}

func (p *Postgres) FetchPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	const query = `
		SELECT id, task_message, status, attempts, last_error, created_at, dispatched_at, sequence_number
		FROM outbox_messages
		WHERE status = $1
		ORDER BY sequence_number ASC
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, domain.OutboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch pending: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxMessage
	for rows.Next() {
		msg, err := scanOutboxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkDispatched(ctx context.Context, id string, dispatchedAt time.Time) error {
	const query = `
		UPDATE outbox_messages SET status = $2, dispatched_at = $3 WHERE id = $1
	`
	result, err := p.pool.Exec(ctx, query, id, domain.OutboxDispatched, dispatchedAt)
	if err != nil {
		return fmt.Errorf("outbox: mark dispatched %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkFailedAttempt(ctx context.Context, id string, lastErr string, maxAttempts int) error {
	const query = `
		UPDATE outbox_messages
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE status END,
		    dispatched_at = CASE WHEN attempts + 1 >= $3 THEN $5 ELSE dispatched_at END
		WHERE id = $1
	`
	result, err := p.pool.Exec(ctx, query, id, lastErr, maxAttempts, domain.OutboxFailed, time.Now())
	if err != nil {
		return fmt.Errorf("outbox: mark failed attempt %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM outbox_messages
		WHERE status IN ($1, $2) AND dispatched_at IS NOT NULL AND dispatched_at < $3
	`
	result, err := p.pool.Exec(ctx, query, domain.OutboxDispatched, domain.OutboxFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox: delete older than: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanOutboxRow(rows pgx.Rows) (*domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	var taskJSON []byte
	var lastErr *string

	if err := rows.Scan(
		&msg.ID,
		&taskJSON,
		&msg.Status,
		&msg.Attempts,
		&lastErr,
		&msg.CreatedAt,
		&msg.DispatchedAt,
		&msg.SequenceNumber,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("outbox: scan row: %w", err)
	}

	if err := json.Unmarshal(taskJSON, &msg.TaskMessage); err != nil {
		return nil, fmt.Errorf("outbox: unmarshal task message: %w", err)
	}
	if lastErr != nil {
		msg.LastError = *lastErr
	}
	return &msg, nil
}
