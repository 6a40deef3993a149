package client

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dotcelery/dotcelery/internal/domain"
)

var validate = validator.New()

// Sentinel errors for SendOptions cross-field checks the struct tags alone
// cannot express.
var (
	ErrExpiresBeforeETA       = errors.New("client: expires must be after eta")
	ErrExpiresBeforeCountdown = errors.New("client: expires must be after now+countdown")
)

// SendOptions configures one Send call. Zero values take the Client's
// configured defaults where applicable (Queue, MaxRetries).
type SendOptions struct {
	Queue         string            `validate:"omitempty"`
	MaxRetries    int               `validate:"gte=0"`
	Priority      int               `validate:"gte=0,lte=9"`
	Countdown     time.Duration     `validate:"gte=0"`
	ETA           *time.Time
	Expires       *time.Time
	CorrelationID string
	ParentID      string
	RootID        string
	TenantID      string
	PartitionKey  string
	Headers       map[string]string
	BatchID       string
}

// validateOptions runs struct-tag validation plus the cross-field rules
// from the domain's message invariants that validator tags can't express
// on their own (a field compared against another field's computed value).
func validateOptions(opts SendOptions, now time.Time) error {
	if err := validate.Struct(opts); err != nil {
		return err
	}
	if opts.ETA != nil && opts.Expires != nil && !opts.Expires.After(*opts.ETA) {
		return ErrExpiresBeforeETA
	}
	if opts.Countdown > 0 && opts.Expires != nil {
		floor := now.Add(opts.Countdown)
		if !opts.Expires.After(floor) {
			return ErrExpiresBeforeCountdown
		}
	}
	return nil
}

func (o SendOptions) eta(now time.Time) *time.Time {
	if o.ETA != nil {
		return o.ETA
	}
	if o.Countdown > 0 {
		t := now.Add(o.Countdown)
		return &t
	}
	return nil
}

// applyTo copies o's envelope-facing fields onto msg.
func (o SendOptions) applyTo(msg *domain.TaskMessage, now time.Time) {
	msg.ETA = o.eta(now)
	msg.Expires = o.Expires
	msg.MaxRetries = o.MaxRetries
	msg.Priority = o.Priority
	msg.CorrelationID = o.CorrelationID
	msg.ParentID = o.ParentID
	msg.RootID = o.RootID
	msg.TenantID = o.TenantID
	msg.PartitionKey = o.PartitionKey
	msg.Headers = o.Headers
	msg.BatchID = o.BatchID
}
