package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide Prometheus registration, covering task
// execution, the worker's work channel, and the coordination primitives
// (kill switch, outbox, delayed dispatcher, saga) that run alongside it.
// It satisfies internal/filter.MetricsRecorder.
type Metrics struct {
	TaskStartedTotal  *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	WorkChannelDepth  prometheus.Gauge
	KillSwitchOpen    prometheus.Gauge
	OutboxDispatched  *prometheus.CounterVec
	OutboxFailed      *prometheus.CounterVec
	DelayedDispatched prometheus.Counter
	SagaStateTotal    *prometheus.CounterVec
}

// NewMetrics builds and registers every metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TaskStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dotcelery",
			Subsystem: "task",
			Name:      "started_total",
			Help:      "Task invocations started, by queue and task name.",
		}, []string{"queue", "task"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dotcelery",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Task handler execution time, by queue, task, and outcome.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"queue", "task", "outcome"}),

		WorkChannelDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dotcelery",
			Subsystem: "worker",
			Name:      "work_channel_depth",
			Help:      "Current number of deliveries buffered in the worker's work channel.",
		}),

		KillSwitchOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dotcelery",
			Subsystem: "worker",
			Name:      "kill_switch_open",
			Help:      "1 while the kill switch is tripped (consumption halted), else 0.",
		}),

		OutboxDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dotcelery",
			Subsystem: "outbox",
			Name:      "dispatched_total",
			Help:      "Outbox rows successfully published to the broker.",
		}, []string{"queue"}),

		OutboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dotcelery",
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Outbox rows that exhausted their publish attempt budget.",
		}, []string{"queue"}),

		DelayedDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dotcelery",
			Subsystem: "delayed",
			Name:      "dispatched_total",
			Help:      "Delayed messages republished once their eta arrived.",
		}),

		SagaStateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dotcelery",
			Subsystem: "saga",
			Name:      "state_total",
			Help:      "Saga terminal-state transitions, by saga name and state.",
		}, []string{"saga", "state"}),
	}

	reg.MustRegister(
		m.TaskStartedTotal, m.TaskDuration, m.WorkChannelDepth, m.KillSwitchOpen,
		m.OutboxDispatched, m.OutboxFailed, m.DelayedDispatched, m.SagaStateTotal,
	)
	return m
}

// ObserveTaskStarted implements internal/filter.MetricsRecorder.
func (m *Metrics) ObserveTaskStarted(queue, task string) {
	m.TaskStartedTotal.WithLabelValues(queue, task).Inc()
}

// ObserveTaskDuration implements internal/filter.MetricsRecorder.
func (m *Metrics) ObserveTaskDuration(queue, task, outcome string, d time.Duration) {
	m.TaskDuration.WithLabelValues(queue, task, outcome).Observe(d.Seconds())
}

// SetWorkChannelDepth records the worker's current buffered delivery count.
func (m *Metrics) SetWorkChannelDepth(n int) {
	m.WorkChannelDepth.Set(float64(n))
}

// SetKillSwitchOpen records whether the kill switch is currently tripped.
func (m *Metrics) SetKillSwitchOpen(open bool) {
	if open {
		m.KillSwitchOpen.Set(1)
		return
	}
	m.KillSwitchOpen.Set(0)
}
