package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Postgres is a Store backed by a sagas table. Steps are held as a JSONB
// column on the saga row: the orchestrator always loads and saves a saga
// whole, so a separate steps table buys nothing but join bookkeeping. A
// GIN index on the step task ids serves FindByTaskID.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres builds a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Save(ctx context.Context, s *domain.Saga) error {
	stepsJSON, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("saga: marshal steps: %w", err)
	}
	taskIDs := stepTaskIDs(s)

	const query = `
		INSERT INTO sagas (id, name, state, steps, current_step_index, started_at, completed_at, failure_reason, correlation_id, task_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			steps = EXCLUDED.steps,
			current_step_index = EXCLUDED.current_step_index,
			completed_at = EXCLUDED.completed_at,
			failure_reason = EXCLUDED.failure_reason,
			task_ids = EXCLUDED.task_ids
	`
	_, err = p.pool.Exec(ctx, query,
		s.ID, s.Name, s.State, stepsJSON, s.CurrentStepIndex,
		s.StartedAt, s.CompletedAt, s.FailureReason, s.CorrelationID, taskIDs,
	)
	if err != nil {
		return fmt.Errorf("saga: save %s: %w", s.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*domain.Saga, error) {
	const query = `
		SELECT id, name, state, steps, current_step_index, started_at, completed_at, failure_reason, correlation_id
		FROM sagas
		WHERE id = $1
	`
	return p.scanSaga(p.pool.QueryRow(ctx, query, id))
}

func (p *Postgres) FindByTaskID(ctx context.Context, taskID string) (*domain.Saga, error) {
	const query = `
		SELECT id, name, state, steps, current_step_index, started_at, completed_at, failure_reason, correlation_id
		FROM sagas
		WHERE task_ids @> ARRAY[$1]::text[]
	`
	return p.scanSaga(p.pool.QueryRow(ctx, query, taskID))
}

func (p *Postgres) scanSaga(row pgx.Row) (*domain.Saga, error) {
	var s domain.Saga
	var stepsJSON []byte

	err := row.Scan(
		&s.ID, &s.Name, &s.State, &stepsJSON, &s.CurrentStepIndex,
		&s.StartedAt, &s.CompletedAt, &s.FailureReason, &s.CorrelationID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("saga: scan row: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &s.Steps); err != nil {
		return nil, fmt.Errorf("saga: unmarshal steps: %w", err)
	}
	return &s, nil
}

// stepTaskIDs collects every dispatched task id on the saga's steps, the
// lookup keys FindByTaskID matches against.
func stepTaskIDs(s *domain.Saga) []string {
	var ids []string
	for i := range s.Steps {
		if id := s.Steps[i].ExecuteTaskID; id != "" {
			ids = append(ids, id)
		}
		if id := s.Steps[i].CompensateTaskID; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
