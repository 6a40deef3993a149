// Package beat periodically dispatches tasks on their registered cron
// schedules: each tick finds due entries, sends them through the client,
// and reschedules them to their next occurrence.
package beat

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a Store lookup finds no matching entry.
var ErrNotFound = errors.New("beat: entry not found")

// Entry is one registered schedule: a task to dispatch, how often, and
// when it is next due.
type Entry struct {
	ID        string
	Name      string
	Task      string
	Args      json.RawMessage
	Queue     string
	CronExpr  string
	Enabled   bool
	NextRunAt time.Time
	LastRunAt *time.Time
}

// Store persists schedule entries and finds the ones due to run.
type Store interface {
	// ListDue returns enabled entries with NextRunAt <= now, oldest-due
	// first, capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	// Save upserts an entry by ID.
	Save(ctx context.Context, entry Entry) error
	// Get returns one entry by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (Entry, error)
	// List returns every entry, for operator inspection.
	List(ctx context.Context) ([]Entry, error)
	// Delete removes an entry by ID.
	Delete(ctx context.Context, id string) error
}
