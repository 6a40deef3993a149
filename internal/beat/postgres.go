package beat

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a beat_schedules table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres builds a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) ListDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	const query = `
		SELECT id, name, task, args, queue, cron_expr, enabled, next_run_at, last_run_at
		FROM beat_schedules
		WHERE enabled AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("beat: list due: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (p *Postgres) Save(ctx context.Context, entry Entry) error {
	const query = `
		INSERT INTO beat_schedules (id, name, task, args, queue, cron_expr, enabled, next_run_at, last_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, task = EXCLUDED.task, args = EXCLUDED.args,
			queue = EXCLUDED.queue, cron_expr = EXCLUDED.cron_expr, enabled = EXCLUDED.enabled,
			next_run_at = EXCLUDED.next_run_at, last_run_at = EXCLUDED.last_run_at
	`
	_, err := p.pool.Exec(ctx, query,
		entry.ID, entry.Name, entry.Task, entry.Args, entry.Queue, entry.CronExpr,
		entry.Enabled, entry.NextRunAt, entry.LastRunAt,
	)
	if err != nil {
		return fmt.Errorf("beat: save %s: %w", entry.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (Entry, error) {
	const query = `
		SELECT id, name, task, args, queue, cron_expr, enabled, next_run_at, last_run_at
		FROM beat_schedules WHERE id = $1
	`
	row := p.pool.QueryRow(ctx, query, id)
	e, err := scanEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("beat: get %s: %w", id, err)
	}
	return e, nil
}

func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	const query = `
		SELECT id, name, task, args, queue, cron_expr, enabled, next_run_at, last_run_at
		FROM beat_schedules ORDER BY id
	`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("beat: list: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM beat_schedules WHERE id = $1`
	_, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("beat: delete %s: %w", id, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (Entry, error) {
	var e Entry
	if err := row.Scan(&e.ID, &e.Name, &e.Task, &e.Args, &e.Queue, &e.CronExpr, &e.Enabled, &e.NextRunAt, &e.LastRunAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("beat: scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
