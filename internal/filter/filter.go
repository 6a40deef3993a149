// Package filter implements the ordered pre/post/exception hook pipeline
// gating task execution: pre hooks run in ascending Order, post and
// exception hooks in descending (LIFO) Order.
package filter

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// Canonical orders for the standard filters.
const (
	OrderSecurityValidation = -2000
	OrderTenantContext      = -2000
	OrderInboxDedup         = -1000
	OrderPartitionedExec    = -1000
	OrderPreventOverlapping = -900
	OrderQueueMetrics       = -3000
)

// Filter gates execution of one invocation. Order determines pre-phase
// sequencing (ascending) and post/exception sequencing (descending, LIFO —
// the last filter entered is the first to run its cleanup).
type Filter interface {
	Order() int
	OnExecuting(ctx context.Context, tc *taskcontext.Context, state *State) error
	OnExecuted(ctx context.Context, tc *taskcontext.Context, state *State)
	// OnException runs when the handler or a later filter panicked/errored.
	// Returning handled=true stops further exception filters from seeing it
	// and suppresses propagation to the executor's default classification.
	OnException(ctx context.Context, tc *taskcontext.Context, state *State, cause error) (handled bool)
}

// State is the per-invocation control surface filters share with the
// executor.
type State struct {
	SkipExecution  bool
	SkipResult     []byte
	RequeueMessage bool
	RequeueDelay   time.Duration

	// RetryRequested is set by a filter (e.g. the rate limiter) that wants
	// the executor to emit Retry(retryAfter) without running the handler.
	RetryRequested        bool
	RetryAfter            time.Duration
	DoNotIncrementRetries bool
}

// Pipeline runs a fixed, sorted set of filters around one invocation.
type Pipeline struct {
	filters []Filter
	logger  *slog.Logger
}

// New builds a Pipeline from filters, sorting once at construction;
// pipelines are immutable after startup.
func New(logger *slog.Logger, filters ...Filter) *Pipeline {
	sorted := make([]Filter, len(filters))
	copy(sorted, filters)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order() < sorted[j].Order()
	})
	return &Pipeline{filters: sorted, logger: logger}
}

// RunPre runs OnExecuting in ascending order. It returns how many filters
// completed their pre-phase (the bound RunPost/RunException unwind from; a
// filter whose OnExecuting failed is not counted) and an error if a
// filter's pre-phase failed, aborting the chain.
func (p *Pipeline) RunPre(ctx context.Context, tc *taskcontext.Context, state *State) (entered int, err error) {
	for i, f := range p.filters {
		if err := f.OnExecuting(ctx, tc, state); err != nil {
			return i, err
		}
		entered = i + 1
		if state.SkipExecution || state.RequeueMessage || state.RetryRequested {
			return entered, nil
		}
	}
	return entered, nil
}

// RunPost runs OnExecuted for filters [0, entered) in descending order
// (LIFO), guaranteeing cleanup for every filter that was entered — even
// when a later filter's pre-phase aborted the chain. Errors from a filter's
// post phase are logged and swallowed so the remaining cleanup still runs.
func (p *Pipeline) RunPost(ctx context.Context, tc *taskcontext.Context, state *State, entered int) {
	for i := entered - 1; i >= 0; i-- {
		p.safeOnExecuted(ctx, tc, state, p.filters[i])
	}
}

func (p *Pipeline) safeOnExecuted(ctx context.Context, tc *taskcontext.Context, state *State, f Filter) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("filter post-phase panicked", "order", f.Order(), "panic", r)
		}
	}()
	f.OnExecuted(ctx, tc, state)
}

// RunException runs OnException for filters [0, entered) in descending
// order until one reports handled=true, and reports whether any did.
func (p *Pipeline) RunException(ctx context.Context, tc *taskcontext.Context, state *State, entered int, cause error) (handled bool) {
	for i := entered - 1; i >= 0; i-- {
		if p.safeOnException(ctx, tc, state, p.filters[i], cause) {
			return true
		}
	}
	return false
}

func (p *Pipeline) safeOnException(ctx context.Context, tc *taskcontext.Context, state *State, f Filter, cause error) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("filter exception-phase panicked", "order", f.Order(), "panic", r)
			handled = false
		}
	}()
	return f.OnException(ctx, tc, state, cause)
}
