package partition

import (
	"context"
	"log/slog"
	"time"

	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// propertyHolderID is an unexported properties-bag key private to this
// filter: the holder id it acquired with, so OnExecuted/OnException release
// the correct lock even if the partition key were to change mid-pipeline.
const propertyHolderID = "dotcelery.partition_holder"

// ExecutionFilter acquires the partition lock on pre and releases it on
// post/exception. Tasks with an empty PartitionKey pass through untouched.
type ExecutionFilter struct {
	lock         Lock
	timeout      time.Duration
	requeueDelay time.Duration
	logger       *slog.Logger
}

// NewExecutionFilter builds the filter at its canonical order
// (filter.OrderPartitionedExec).
func NewExecutionFilter(lock Lock, timeout, requeueDelay time.Duration, logger *slog.Logger) *ExecutionFilter {
	return &ExecutionFilter{lock: lock, timeout: timeout, requeueDelay: requeueDelay, logger: logger}
}

func (f *ExecutionFilter) Order() int { return filter.OrderPartitionedExec }

func (f *ExecutionFilter) OnExecuting(ctx context.Context, tc *taskcontext.Context, state *filter.State) error {
	key := tc.PartitionKey()
	if key == "" {
		return nil
	}

	acquired, err := f.lock.TryAcquire(ctx, key, tc.TaskID(), f.timeout)
	if err != nil {
		return err
	}
	if !acquired {
		state.RequeueMessage = true
		state.RequeueDelay = f.requeueDelay
		return nil
	}

	tc.SetProperty(propertyHolderID, tc.TaskID())
	return nil
}

func (f *ExecutionFilter) OnExecuted(ctx context.Context, tc *taskcontext.Context, state *filter.State) {
	f.release(ctx, tc)
}

func (f *ExecutionFilter) OnException(ctx context.Context, tc *taskcontext.Context, state *filter.State, cause error) bool {
	f.release(ctx, tc)
	return false
}

func (f *ExecutionFilter) release(ctx context.Context, tc *taskcontext.Context) {
	key := tc.PartitionKey()
	if key == "" {
		return
	}
	if _, ok := tc.Property(propertyHolderID); !ok {
		return
	}
	if _, err := f.lock.Release(ctx, key, tc.TaskID()); err != nil {
		f.logger.Warn("partition release failed", "key", key, "task_id", tc.TaskID(), "error", err)
	}
}
