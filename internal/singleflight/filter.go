package singleflight

import (
	"context"
	"log/slog"
	"time"

	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

const propertyLockKey = "dotcelery.singleflight_lock_key"

// PropertyEnabled gates the filter per task. The executor sets it from the
// registration's policy, so only tasks that declared PreventOverlapping pay
// the tracker round trip.
const PropertyEnabled = "dotcelery.prevent_overlapping"

// PropertyUserKeyProperty carries the registration-declared property name
// whose value becomes the lock key's user component.
const PropertyUserKeyProperty = "dotcelery.overlap_user_key_property"

// PreventOverlappingFilter enforces at most one concurrent execution per
// lock key. A failed TryStart is not a failure: the duplicate is treated as
// a no-op and synthesizes a Success result.
type PreventOverlappingFilter struct {
	tracker Tracker
	timeout time.Duration
	logger  *slog.Logger
}

// NewPreventOverlappingFilter builds the filter at its canonical order
// (filter.OrderPreventOverlapping).
func NewPreventOverlappingFilter(tracker Tracker, timeout time.Duration, logger *slog.Logger) *PreventOverlappingFilter {
	return &PreventOverlappingFilter{tracker: tracker, timeout: timeout, logger: logger}
}

func (f *PreventOverlappingFilter) Order() int { return filter.OrderPreventOverlapping }

// UserKey resolves the lock key's user component for an invocation: either
// a named Properties-bag value (set by an earlier filter) or absent for a
// task-level lock. Callers that need a content-hash key compute it before
// the pipeline runs and set it as a property under propertyName.
func UserKey(tc *taskcontext.Context, propertyName string) string {
	if propertyName == "" {
		return ""
	}
	if v, ok := tc.Property(propertyName); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (f *PreventOverlappingFilter) OnExecuting(ctx context.Context, tc *taskcontext.Context, state *filter.State) error {
	if enabled, ok := tc.Property(PropertyEnabled); !ok || enabled != true {
		return nil
	}
	lockKey := LockKey(tc.TaskName(), UserKey(tc, propertyUserKeyProperty(tc)))

	started, err := f.tracker.TryStart(ctx, lockKey, tc.TaskID(), f.timeout)
	if err != nil {
		return err
	}
	if !started {
		state.SkipExecution = true
		state.SkipResult = nil
		tc.SetProperty("dotcelery.deduplicated_overlap", true)
		return nil
	}

	tc.SetProperty(propertyLockKey, lockKey)
	return nil
}

// propertyUserKeyProperty reads the per-task userKey property name a
// registration declared (registry.Policy.OverlapUserKeyProperty), stashed
// onto the context by the executor before the pipeline runs.
func propertyUserKeyProperty(tc *taskcontext.Context) string {
	if v, ok := tc.Property(PropertyUserKeyProperty); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (f *PreventOverlappingFilter) OnExecuted(ctx context.Context, tc *taskcontext.Context, state *filter.State) {
	f.stop(ctx, tc)
}

func (f *PreventOverlappingFilter) OnException(ctx context.Context, tc *taskcontext.Context, state *filter.State, cause error) bool {
	f.stop(ctx, tc)
	return false
}

func (f *PreventOverlappingFilter) stop(ctx context.Context, tc *taskcontext.Context) {
	v, ok := tc.Property(propertyLockKey)
	if !ok {
		return
	}
	lockKey, ok := v.(string)
	if !ok {
		return
	}
	if err := f.tracker.Stop(ctx, lockKey, tc.TaskID()); err != nil {
		f.logger.Warn("singleflight stop failed", "lock_key", lockKey, "task_id", tc.TaskID(), "error", err)
	}
}
