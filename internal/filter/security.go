package filter

import (
	"context"
	"fmt"

	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// SecurityError marks a pre-phase rejection from SecurityValidationFilter;
// the executor classifies it as a terminal Rejected with security metadata.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string { return "security violation: " + e.Reason }

// SecurityConfig bounds the SecurityValidationFilter's checks.
type SecurityConfig struct {
	MaxAllowedSchemaVersion int
	MaxPayloadSizeBytes     int
	EnforceTaskAllowlist    bool
	AllowedTaskNames        map[string]bool
}

// SecurityValidationFilter rejects envelopes exceeding the configured
// schema version, payload size, or (if enforced) task allowlist. Runs at
// OrderSecurityValidation: of the standard filters only QueueMetrics
// (OrderQueueMetrics) runs before it, and TenantContext shares its order.
type SecurityValidationFilter struct {
	Base
	cfg SecurityConfig
}

// NewSecurityValidationFilter builds the filter at its canonical order.
func NewSecurityValidationFilter(cfg SecurityConfig) *SecurityValidationFilter {
	return &SecurityValidationFilter{Base: NewBase(OrderSecurityValidation), cfg: cfg}
}

func (f *SecurityValidationFilter) OnExecuting(ctx context.Context, tc *taskcontext.Context, state *State) error {
	msg := tc.Message()

	if f.cfg.MaxAllowedSchemaVersion > 0 && msg.SchemaVersion > f.cfg.MaxAllowedSchemaVersion {
		return &SecurityError{Reason: fmt.Sprintf("schema version %d exceeds max %d", msg.SchemaVersion, f.cfg.MaxAllowedSchemaVersion)}
	}

	if f.cfg.MaxPayloadSizeBytes > 0 && len(msg.Args) > f.cfg.MaxPayloadSizeBytes {
		return &SecurityError{Reason: fmt.Sprintf("payload %d bytes exceeds max %d", len(msg.Args), f.cfg.MaxPayloadSizeBytes)}
	}

	if f.cfg.EnforceTaskAllowlist && !f.cfg.AllowedTaskNames[msg.Task] {
		return &SecurityError{Reason: fmt.Sprintf("task %q is not allowlisted", msg.Task)}
	}

	return nil
}
