package ratelimit

import (
	"context"

	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// FilterOrder places the rate-limit check alongside the other admission
// filters, ahead of PreventOverlapping so a rejected lease never pays the
// single-flight round trip.
const FilterOrder = filter.OrderPreventOverlapping - 10

// Filter converts a rejected lease into a Retry outcome carrying
// doNotIncrementRetries=true.
type Filter struct {
	limiter Limiter
	policy  func(tc *taskcontext.Context) (resourceKey string, policy Policy, enabled bool)
}

// NewFilter builds the filter. policyFn resolves the per-task rate-limit
// policy (or enabled=false to skip) from the invocation's registration and
// properties, since policies are declared at registration time, not
// discovered reflectively.
func NewFilter(limiter Limiter, policyFn func(tc *taskcontext.Context) (string, Policy, bool)) *Filter {
	return &Filter{limiter: limiter, policy: policyFn}
}

func (f *Filter) Order() int { return FilterOrder }

func (f *Filter) OnExecuting(ctx context.Context, tc *taskcontext.Context, state *filter.State) error {
	resourceKey, policy, enabled := f.policy(tc)
	if !enabled {
		return nil
	}

	lease, err := f.limiter.TryAcquire(ctx, resourceKey, policy)
	if err != nil {
		return err
	}
	if !lease.Acquired {
		state.RetryRequested = true
		state.RetryAfter = lease.RetryAfter
		state.DoNotIncrementRetries = true
	}
	return nil
}

func (f *Filter) OnExecuted(ctx context.Context, tc *taskcontext.Context, state *filter.State) {}

func (f *Filter) OnException(ctx context.Context, tc *taskcontext.Context, state *filter.State, cause error) bool {
	return false
}
