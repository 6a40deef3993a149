package filter

import (
	"context"

	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// Base provides no-op OnExecuted/OnException so standard filters that only
// care about the pre-phase (e.g. SecurityValidation) need not implement them.
type Base struct {
	order int
}

// NewBase returns a Base declaring the given order.
func NewBase(order int) Base { return Base{order: order} }

func (b Base) Order() int { return b.order }

func (Base) OnExecuted(ctx context.Context, tc *taskcontext.Context, state *State) {}

func (Base) OnException(ctx context.Context, tc *taskcontext.Context, state *State, cause error) bool {
	return false
}
