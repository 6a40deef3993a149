package config

import (
	"github.com/dotcelery/dotcelery/internal/beat"
	"github.com/dotcelery/dotcelery/internal/client"
	"github.com/dotcelery/dotcelery/internal/deadletter"
	"github.com/dotcelery/dotcelery/internal/delayed"
	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/killswitch"
	"github.com/dotcelery/dotcelery/internal/outbox"
	"github.com/dotcelery/dotcelery/internal/saga"
	"github.com/dotcelery/dotcelery/internal/worker"
)

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// WorkerConfig builds a worker.Config from the loaded worker.* options.
func (c Config) WorkerConfig() worker.Config {
	return worker.Config{
		Queues:                         c.WorkerQueues,
		Concurrency:                    c.WorkerConcurrency,
		Prefetch:                       c.WorkerPrefetchCount,
		UseDelayQueue:                  c.WorkerUseDelayQueue,
		RequeueRateLimitedToDelayQueue: c.WorkerRequeueRateLimitedToDelayQueue,
		EnableGracefulShutdown:         c.WorkerEnableGracefulShutdown,
		ShutdownTimeout:                c.WorkerShutdownTimeout,
		NackOnForcedShutdown:           c.WorkerNackOnForcedShutdown,
	}
}

// KillSwitchConfig builds a killswitch.Config from the loaded killSwitch.*
// options.
func (c Config) KillSwitchConfig() killswitch.Config {
	return killswitch.Config{
		ActivationThreshold: c.KillSwitchActivationThreshold,
		TripThreshold:       c.KillSwitchTripThreshold,
		TrackingWindow:      c.KillSwitchTrackingWindow,
		RestartTimeout:      c.KillSwitchRestartTimeout,
		TripOnExceptions:    toSet(c.KillSwitchTripOnExceptions),
		IgnoreExceptions:    toSet(c.KillSwitchIgnoreExceptions),
	}
}

// SecurityConfig builds a filter.SecurityConfig from the loaded security.*
// options.
func (c Config) SecurityConfig() filter.SecurityConfig {
	return filter.SecurityConfig{
		MaxAllowedSchemaVersion: c.SecurityMaxAllowedSchemaVersion,
		MaxPayloadSizeBytes:     c.SecurityMaxPayloadSizeBytes,
		EnforceTaskAllowlist:    c.SecurityEnforceTaskAllowlist,
		AllowedTaskNames:        toSet(c.SecurityAllowedTaskNames),
	}
}

// DeadLetterConfig builds a deadletter.Config from the loaded deadLetter.*
// options.
func (c Config) DeadLetterConfig() deadletter.Config {
	reasons := make(map[deadletter.Reason]bool, len(c.DeadLetterReasons))
	for _, r := range c.DeadLetterReasons {
		reasons[deadletter.Reason(r)] = true
	}
	return deadletter.Config{
		Enabled:           c.DeadLetterEnabled,
		Reasons:           reasons,
		IncludeStackTrace: c.DeadLetterIncludeStackTrace,
		RetentionPeriod:   c.DeadLetterRetentionPeriod,
	}
}

// SagaConfig builds a saga.Config from the loaded saga.* options.
func (c Config) SagaConfig() saga.Config {
	return saga.Config{
		AutoCompensateOnFailure: c.SagaAutoCompensateOnFailure,
		DispatchSignals:         c.SagaDispatchSignals,
	}
}

// OutboxConfig builds an outbox.Config from the loaded outbox.* options.
func (c Config) OutboxConfig() outbox.Config {
	return outbox.Config{
		PollInterval:    c.OutboxDispatchInterval,
		BatchSize:       c.OutboxBatchSize,
		MaxAttempts:     c.OutboxMaxAttempts,
		RetentionPeriod: c.OutboxRetentionPeriod,
	}
}

// DelayedConfig builds a delayed.Config from the loaded worker.delayed*
// options. BatchSize has no dedicated env var; it reuses the outbox batch
// size default since both are bounded-fetch background loops.
func (c Config) DelayedConfig() delayed.Config {
	return delayed.Config{
		PollInterval:  c.WorkerDelayedMessagePollInterval,
		BatchSize:     c.OutboxBatchSize,
		RetryInterval: c.WorkerDelayedMessageRetryInterval,
	}
}

// BeatConfig builds a beat.Config from the loaded beat.* options.
func (c Config) BeatConfig() beat.Config {
	return beat.Config{
		BatchSize: c.BeatBatchSize,
	}
}

// ClientConfig builds a client.Config from the loaded client.* options.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		DefaultQueue:      c.ClientDefaultQueue,
		DefaultMaxRetries: c.ClientDefaultMaxRetries,
	}
}
