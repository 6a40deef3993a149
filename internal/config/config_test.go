package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"default"}, cfg.WorkerQueues)
	require.Equal(t, 4, cfg.WorkerConcurrency)
	require.Equal(t, "rabbitmq", cfg.BrokerKind)
	require.Equal(t, 0.5, cfg.KillSwitchTripThreshold)
	require.Equal(t, 5, cfg.OutboxMaxAttempts)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("DOTCELERY_WORKER_QUEUES", "default,reports,emails")
	t.Setenv("DOTCELERY_WORKER_CONCURRENCY", "16")
	t.Setenv("DOTCELERY_BROKER_KIND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"default", "reports", "emails"}, cfg.WorkerQueues)
	require.Equal(t, 16, cfg.WorkerConcurrency)
	require.Equal(t, "memory", cfg.BrokerKind)
}

func TestValidateRejectsOutOfRangeTripThreshold(t *testing.T) {
	t.Setenv("DOTCELERY_KILL_SWITCH_TRIP_THRESHOLD", "1.5")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsUnknownBrokerKind(t *testing.T) {
	t.Setenv("DOTCELERY_BROKER_KIND", "kafka")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("DOTCELERY_WORKER_CONCURRENCY", "0")
	_, err := Load()
	require.Error(t, err)
}

func TestWiringTranslatesSecurityAllowlist(t *testing.T) {
	t.Setenv("DOTCELERY_SECURITY_ENFORCE_TASK_ALLOWLIST", "true")
	t.Setenv("DOTCELERY_SECURITY_ALLOWED_TASK_NAMES", "math.add,math.sub")

	cfg, err := Load()
	require.NoError(t, err)

	sec := cfg.SecurityConfig()
	require.True(t, sec.EnforceTaskAllowlist)
	require.True(t, sec.AllowedTaskNames["math.add"])
	require.True(t, sec.AllowedTaskNames["math.sub"])
	require.False(t, sec.AllowedTaskNames["math.mul"])
}

func TestWiringDeadLetterReasons(t *testing.T) {
	t.Setenv("DOTCELERY_DEAD_LETTER_REASONS", "MAX_RETRIES_EXCEEDED,UNKNOWN_TASK")

	cfg, err := Load()
	require.NoError(t, err)

	dl := cfg.DeadLetterConfig()
	require.Len(t, dl.Reasons, 2)
}
