// Package deadletter handles envelopes the executor can never complete:
// exhausted retries, unknown tasks, deserialization failures, expired
// messages, and unprocessable payloads.
package deadletter

import (
	"context"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Reason classifies why an envelope was dead-lettered.
type Reason string

const (
	ReasonMaxRetriesExceeded  Reason = "MAX_RETRIES_EXCEEDED"
	ReasonUnknownTask         Reason = "UNKNOWN_TASK"
	ReasonDeserializeFailed   Reason = "DESERIALIZATION_FAILED"
	ReasonExpiredMessage      Reason = "EXPIRED_MESSAGE"
	ReasonUnprocessable       Reason = "UNPROCESSABLE"
)

// Entry is one persisted dead-letter record.
type Entry struct {
	ID            string
	OriginalTask  domain.TaskMessage
	Reason        Reason
	ExceptionType string
	Message       string
	Stack         string
	CreatedAt     time.Time
}

// Config bounds what the handler records.
type Config struct {
	Enabled           bool
	Reasons           map[Reason]bool // empty means all reasons are recorded
	IncludeStackTrace bool
	RetentionPeriod   time.Duration
}

func (c Config) recorded(reason Reason) bool {
	if !c.Enabled {
		return false
	}
	if len(c.Reasons) == 0 {
		return true
	}
	return c.Reasons[reason]
}

// Store persists dead-letter entries.
type Store interface {
	Save(ctx context.Context, entry Entry) error
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
	// List returns entries ordered newest-first, for operator inspection.
	List(ctx context.Context, limit, offset int) ([]Entry, error)
}

// Handler classifies and records failures. If no Store is configured, it
// logs and drops.
type Handler struct {
	store  Store
	cfg    Config
	logger Logger
	newID  func() string
}

// Logger is the narrow logging surface Handler needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// New builds a Handler. store may be nil, in which case dead-lettered
// entries are logged and dropped.
func New(store Store, cfg Config, logger Logger, newID func() string) *Handler {
	return &Handler{store: store, cfg: cfg, logger: logger, newID: newID}
}

// Handle records entry's envelope under reason, assigning a fresh id.
func (h *Handler) Handle(ctx context.Context, msg domain.TaskMessage, reason Reason, exc *domain.Exception) error {
	if !h.cfg.recorded(reason) {
		return nil
	}

	entry := Entry{
		ID:           h.newID(),
		OriginalTask: msg,
		Reason:       reason,
		CreatedAt:    time.Now(),
	}
	if exc != nil {
		entry.ExceptionType = exc.Type
		entry.Message = exc.Message
		if h.cfg.IncludeStackTrace {
			entry.Stack = exc.Stack
		}
	}

	if h.store == nil {
		h.logger.Warn("dead-letter store unconfigured, dropping entry",
			"task_id", msg.ID, "reason", reason)
		return nil
	}

	return h.store.Save(ctx, entry)
}

// Cleanup removes entries older than RetentionPeriod.
func (h *Handler) Cleanup(ctx context.Context) (int, error) {
	if h.store == nil || h.cfg.RetentionPeriod <= 0 {
		return 0, nil
	}
	return h.store.Cleanup(ctx, time.Now().Add(-h.cfg.RetentionPeriod))
}
