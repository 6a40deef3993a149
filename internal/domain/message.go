// Package domain holds the value types shared across DotCelery: the task
// envelope, broker delivery wrapper, terminal result, saga record and the
// small coordination records (partition lock, execution track, revocation)
// that the coordination packages persist.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel validation errors for TaskMessage invariants.
var (
	ErrRetriesExceedMax  = errors.New("domain: retries exceeds max_retries")
	ErrExpiresBeforeETA  = errors.New("domain: expires must be after eta")
	ErrPriorityOutOfRange = errors.New("domain: priority must be in [0,9]")
)

// MinPriority and MaxPriority bound TaskMessage.Priority.
const (
	MinPriority = 0
	MaxPriority = 9
)

// TaskMessage is the durable work envelope carried from client to broker to
// worker. Its Args field holds an opaque, already-serialized payload; the
// content type names the codec used to produce it.
type TaskMessage struct {
	ID             string            `json:"id"`
	Task           string            `json:"task"`
	Args           []byte            `json:"args"`
	ContentType    string            `json:"content_type"`
	Queue          string            `json:"queue"`
	Timestamp      time.Time         `json:"timestamp"`
	ETA            *time.Time        `json:"eta,omitempty"`
	Expires        *time.Time        `json:"expires,omitempty"`
	Retries        int               `json:"retries"`
	MaxRetries     int               `json:"max_retries"`
	Priority       int               `json:"priority"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	ParentID       string            `json:"parent_id,omitempty"`
	RootID         string            `json:"root_id,omitempty"`
	TenantID       string            `json:"tenant_id,omitempty"`
	PartitionKey   string            `json:"partition_key,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	BatchID        string            `json:"batch_id,omitempty"`
	SchemaVersion  int               `json:"schema_version"`
}

// Validate enforces the core envelope invariants: retries ≤ maxRetries,
// expires > eta when both are set, priority within [0,9].
func (m *TaskMessage) Validate() error {
	if m.Retries > m.MaxRetries {
		return ErrRetriesExceedMax
	}
	if m.Priority < MinPriority || m.Priority > MaxPriority {
		return ErrPriorityOutOfRange
	}
	if m.ETA != nil && m.Expires != nil && !m.Expires.After(*m.ETA) {
		return ErrExpiresBeforeETA
	}
	return nil
}

// ClampPriority forces Priority into [0,9].
func (m *TaskMessage) ClampPriority() {
	if m.Priority < MinPriority {
		m.Priority = MinPriority
	}
	if m.Priority > MaxPriority {
		m.Priority = MaxPriority
	}
}

// IsExpired reports whether the message's deadline has passed as of now.
func (m *TaskMessage) IsExpired(now time.Time) bool {
	return m.Expires != nil && m.Expires.Before(now)
}

// IsDueForDispatch reports whether an ETA-bearing message is ready to run.
func (m *TaskMessage) IsDueForDispatch(now time.Time) bool {
	return m.ETA == nil || !m.ETA.After(now)
}

// NextAttempt returns a copy of m with Retries incremented by one, suitable
// for republishing after a Retry outcome. The ID is preserved: retry
// tracking requires the id to stay stable across attempts.
func (m TaskMessage) NextAttempt() TaskMessage {
	m.Retries++
	m.Timestamp = time.Now().UTC()
	m.ETA = nil
	return m
}

// WithETA returns a copy of m carrying a future dispatch time.
func (m TaskMessage) WithETA(at time.Time) TaskMessage {
	m.ETA = &at
	return m
}

// NewID mints a unique task id. Exposed as a function (rather than calling
// uuid.NewString inline everywhere) so tests and the client agree on one
// generation strategy.
func NewID() string {
	return uuid.NewString()
}

// BrokerMessage wraps a TaskMessage with the transport-specific delivery
// handle the broker uses to identify an outstanding delivery.
type BrokerMessage struct {
	Task        TaskMessage
	DeliveryTag string
	Queue       string
	ReceivedAt  time.Time
}
