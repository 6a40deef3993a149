package filter

import (
	"context"
	"time"

	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// MetricsRecorder is the narrow surface QueueMetricsFilter needs; satisfied
// by internal/telemetry.Metrics, kept as an interface here to avoid filter
// depending on the concrete Prometheus wiring.
type MetricsRecorder interface {
	ObserveTaskStarted(queue, task string)
	ObserveTaskDuration(queue, task, outcome string, d time.Duration)
}

// QueueMetricsFilter records start/duration metrics around every
// invocation. It runs outermost (OrderQueueMetrics is the lowest canonical
// order) so its duration measurement brackets every other filter.
type QueueMetricsFilter struct {
	Base
	recorder MetricsRecorder
}

// NewQueueMetricsFilter builds the filter at its canonical order.
func NewQueueMetricsFilter(recorder MetricsRecorder) *QueueMetricsFilter {
	return &QueueMetricsFilter{Base: NewBase(OrderQueueMetrics), recorder: recorder}
}

func (f *QueueMetricsFilter) OnExecuting(ctx context.Context, tc *taskcontext.Context, state *State) error {
	f.recorder.ObserveTaskStarted(tc.Queue(), tc.TaskName())
	tc.SetProperty("dotcelery.metrics_start", time.Now())
	return nil
}

func (f *QueueMetricsFilter) OnExecuted(ctx context.Context, tc *taskcontext.Context, state *State) {
	f.recordDuration(tc, "success")
}

func (f *QueueMetricsFilter) OnException(ctx context.Context, tc *taskcontext.Context, state *State, cause error) bool {
	f.recordDuration(tc, "failure")
	return false
}

func (f *QueueMetricsFilter) recordDuration(tc *taskcontext.Context, outcome string) {
	startVal, ok := tc.Property("dotcelery.metrics_start")
	if !ok {
		return
	}
	start, ok := startVal.(time.Time)
	if !ok {
		return
	}
	f.recorder.ObserveTaskDuration(tc.Queue(), tc.TaskName(), outcome, time.Since(start))
}
