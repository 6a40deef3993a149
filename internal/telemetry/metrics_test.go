package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserveTaskStartedAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTaskStarted("default", "send_email")
	m.ObserveTaskDuration("default", "send_email", "success", 50*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawStarted, sawDuration bool
	for _, f := range families {
		switch f.GetName() {
		case "dotcelery_task_started_total":
			sawStarted = true
			require.Equal(t, float64(1), f.Metric[0].Counter.GetValue())
		case "dotcelery_task_duration_seconds":
			sawDuration = true
			require.Equal(t, uint64(1), f.Metric[0].Histogram.GetSampleCount())
		}
	}
	require.True(t, sawStarted, "expected dotcelery_task_started_total to be registered")
	require.True(t, sawDuration, "expected dotcelery_task_duration_seconds to be registered")
}

func TestMetricsGaugeSetters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetWorkChannelDepth(7)
	m.SetKillSwitchOpen(true)

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		switch f.GetName() {
		case "dotcelery_worker_work_channel_depth":
			require.Equal(t, float64(7), f.Metric[0].Gauge.GetValue())
		case "dotcelery_worker_kill_switch_open":
			require.Equal(t, float64(1), f.Metric[0].Gauge.GetValue())
		}
	}

	m.SetKillSwitchOpen(false)
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "dotcelery_worker_kill_switch_open" {
			require.Equal(t, float64(0), f.Metric[0].Gauge.GetValue())
		}
	}
}
