package inbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// dedupResult is the synthesized payload a deduplicated invocation's
// skipResult carries.
type dedupResult struct {
	Deduplicated bool `json:"deduplicated"`
}

// Filter checks and marks task-id dedup state.
type Filter struct {
	store  Store
	logger *slog.Logger
}

// NewFilter builds the filter at its canonical order (filter.OrderInboxDedup).
func NewFilter(store Store, logger *slog.Logger) *Filter {
	return &Filter{store: store, logger: logger}
}

func (f *Filter) Order() int { return filter.OrderInboxDedup }

func (f *Filter) OnExecuting(ctx context.Context, tc *taskcontext.Context, state *filter.State) error {
	processed, err := f.store.IsProcessed(ctx, tc.TaskID())
	if err != nil {
		return err
	}
	if processed {
		result, _ := json.Marshal(dedupResult{Deduplicated: true})
		state.SkipExecution = true
		state.SkipResult = result
	}
	return nil
}

func (f *Filter) OnExecuted(ctx context.Context, tc *taskcontext.Context, state *filter.State) {
	// Best-effort: a crash between execution and marking yields
	// at-least-once.
	if err := f.store.MarkProcessed(ctx, tc.TaskID(), time.Now()); err != nil {
		f.logger.Warn("inbox mark processed failed", "task_id", tc.TaskID(), "error", err)
	}
}

func (f *Filter) OnException(ctx context.Context, tc *taskcontext.Context, state *filter.State, cause error) bool {
	return false
}
