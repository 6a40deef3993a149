// Package executor implements the per-delivery state machine: revocation and expiry checks, registration lookup, the filter
// pipeline, handler invocation, and outcome classification.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dotcelery/dotcelery/internal/deadletter"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/history"
	"github.com/dotcelery/dotcelery/internal/registry"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/revocation"
	"github.com/dotcelery/dotcelery/internal/serializer"
	"github.com/dotcelery/dotcelery/internal/signal"
	"github.com/dotcelery/dotcelery/internal/singleflight"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

var tracer = otel.Tracer("github.com/dotcelery/dotcelery/internal/executor")

// ResultKind enumerates executor outcomes.
type ResultKind int

const (
	OutcomeSuccess ResultKind = iota
	OutcomeFailure
	OutcomeRetry
	OutcomeRequeued
	OutcomeRevoked
	OutcomeRejected
)

// Outcome classifies how a delivery ended, driving the worker's
// broker-op translation table.
type Outcome struct {
	State ResultKind

	// RetryMessage is set when State == OutcomeRetry: the message to
	// republish for the next attempt.
	RetryMessage domain.TaskMessage

	// RetryAfter, when non-zero, asks the worker to delay the retry
	// (rate-limit back-pressure) rather than republish immediately.
	RetryAfter time.Duration

	// RequeueDelay is set when State == OutcomeRequeued.
	RequeueDelay time.Duration

	// Err carries the classification error for logging; nil on Success.
	Err error

	// ExceptionType is set on Failure outcomes; the kill switch matches
	// it against its trip/ignore lists.
	ExceptionType string
}

// Config bounds executor behavior not otherwise derived from the
// registration or message.
type Config struct {
	// MaxUncountedRetries bounds doNotIncrementRetries retries (e.g.
	// rate-limit back-pressure) by the message's counted Retries: below it
	// such a retry leaves Retries unchanged, at or above it the retry is
	// counted. Uncounted retries are not tallied, so on their own they
	// never reach this bound.
	MaxUncountedRetries int

	// DefaultHandlerTimeout bounds handler execution when the message
	// carries no explicit deadline.
	DefaultHandlerTimeout time.Duration
}

// DefaultConfig returns the resolved defaults.
func DefaultConfig() Config {
	return Config{
		MaxUncountedRetries:   1000,
		DefaultHandlerTimeout: 10 * time.Minute,
	}
}

// Executor runs one delivery to completion.
type Executor struct {
	registry    *registry.Registry
	pipeline    *filter.Pipeline
	results     resultbackend.Backend
	revocations revocation.Store
	deadLetter  *deadletter.Handler
	serializer  serializer.Serializer
	signals     signal.Store
	history     history.Store
	cfg         Config
	logger      *slog.Logger
}

// SetSignals attaches a completion bus the executor publishes every
// terminal outcome to, for a saga orchestrator (or any other completion
// subscriber) to react to. Optional — nil means no signals
// are published.
func (e *Executor) SetSignals(signals signal.Store) {
	e.signals = signals
}

// SetHistory attaches a store that receives one record per terminal
// outcome, the execution trail behind the operator API's task history
// endpoint. Optional — nil means no records are written.
func (e *Executor) SetHistory(store history.Store) {
	e.history = store
}

// New builds an Executor.
func New(
	reg *registry.Registry,
	pipeline *filter.Pipeline,
	results resultbackend.Backend,
	revocations revocation.Store,
	deadLetter *deadletter.Handler,
	ser serializer.Serializer,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	def := DefaultConfig()
	if cfg.MaxUncountedRetries <= 0 {
		cfg.MaxUncountedRetries = def.MaxUncountedRetries
	}
	if cfg.DefaultHandlerTimeout <= 0 {
		cfg.DefaultHandlerTimeout = def.DefaultHandlerTimeout
	}
	return &Executor{
		registry:    reg,
		pipeline:    pipeline,
		results:     results,
		revocations: revocations,
		deadLetter:  deadLetter,
		serializer:  ser,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run executes one delivery and returns its classified Outcome. workerDone
// is closed when the worker begins graceful shutdown; handler cancellation
// observed after that point classifies as Requeued rather than Failure.
func (e *Executor) Run(ctx context.Context, msg domain.TaskMessage, workerDone <-chan struct{}) Outcome {
	ctx, span := tracer.Start(ctx, "dotcelery.execute",
		trace.WithAttributes(
			attribute.String("dotcelery.task_id", msg.ID),
			attribute.String("dotcelery.task_name", msg.Task),
			attribute.String("dotcelery.queue", msg.Queue),
		),
	)
	defer span.End()

	now := time.Now()

	if revoked, err := e.revocations.IsRevoked(ctx, msg.ID); err == nil && revoked {
		e.store(ctx, msg, domain.NewResult(msg.ID, domain.ResultRevoked))
		span.SetStatus(codes.Ok, "revoked")
		return Outcome{State: OutcomeRevoked}
	}

	if msg.IsExpired(now) {
		e.store(ctx, msg, domain.NewResult(msg.ID, domain.ResultRejected))
		span.SetStatus(codes.Ok, "expired")
		return Outcome{State: OutcomeRejected}
	}

	reg, err := e.registry.Get(msg.Task)
	if err != nil {
		exc := &domain.Exception{Type: "UnknownTask", Message: msg.Task}
		e.deadLetter.Handle(ctx, msg, deadletter.ReasonUnknownTask, exc)
		result := domain.NewResult(msg.ID, domain.ResultFailure)
		result.Exception = exc
		e.store(ctx, msg, result)
		span.SetStatus(codes.Error, "unknown task")
		return Outcome{State: OutcomeFailure, Err: err, ExceptionType: exc.Type}
	}

	tc := taskcontext.New(ctx, msg)
	seedPolicyProperties(tc, reg.Policy)
	state := &filter.State{}
	entered, preErr := e.pipeline.RunPre(ctx, tc, state)
	if preErr != nil {
		e.pipeline.RunPost(ctx, tc, state, entered)

		var secErr *filter.SecurityError
		if errors.As(preErr, &secErr) {
			result := domain.NewResult(msg.ID, domain.ResultRejected)
			result.Exception = &domain.Exception{Type: "SecurityViolation", Message: secErr.Reason}
			result.Metadata = map[string]any{"security_violation": secErr.Reason}
			e.store(ctx, msg, result)
			span.SetStatus(codes.Error, "security violation")
			return Outcome{State: OutcomeRejected, Err: preErr, ExceptionType: result.Exception.Type}
		}

		result := domain.NewResult(msg.ID, domain.ResultFailure)
		result.Exception = &domain.Exception{Type: "FilterError", Message: preErr.Error()}
		e.store(ctx, msg, result)
		span.SetStatus(codes.Error, "pre-filter aborted")
		return Outcome{State: OutcomeFailure, Err: preErr, ExceptionType: result.Exception.Type}
	}

	if state.SkipExecution {
		result := domain.NewResult(msg.ID, domain.ResultSuccess)
		result.Result = state.SkipResult
		result.CompletedAt = time.Now()
		e.store(ctx, msg, result)
		e.pipeline.RunPost(ctx, tc, state, entered)
		span.SetStatus(codes.Ok, "skipped (deduplicated)")
		return Outcome{State: OutcomeSuccess}
	}
	if state.RetryRequested {
		outcome := e.classifyRetry(msg, state.RetryAfter, state.DoNotIncrementRetries, nil)
		e.storeRetryResult(ctx, msg, outcome)
		e.pipeline.RunPost(ctx, tc, state, entered)
		span.SetStatus(codes.Ok, "retry requested by filter")
		return outcome
	}
	if state.RequeueMessage {
		e.pipeline.RunPost(ctx, tc, state, entered)
		e.store(ctx, msg, domain.NewResult(msg.ID, domain.ResultRequeued))
		span.SetStatus(codes.Ok, "requeued by filter")
		return Outcome{State: OutcomeRequeued, RequeueDelay: state.RequeueDelay}
	}

	// Validate the payload decodes under the registered content type;
	// the handler itself owns the concrete unmarshal into its input type.
	var probe any
	if err := e.serializer.Unmarshal(msg.Args, &probe); err != nil {
		exc := &domain.Exception{Type: "DeserializationFailed", Message: err.Error()}
		e.deadLetter.Handle(ctx, msg, deadletter.ReasonDeserializeFailed, exc)
		result := domain.NewResult(msg.ID, domain.ResultFailure)
		result.Exception = exc
		e.store(ctx, msg, result)
		e.pipeline.RunPost(ctx, tc, state, entered)
		span.SetStatus(codes.Error, "deserialize failed")
		return Outcome{State: OutcomeFailure, Err: err, ExceptionType: exc.Type}
	}

	e.store(ctx, msg, domain.NewResult(msg.ID, domain.ResultStarted))

	if e.cfg.DefaultHandlerTimeout > 0 {
		handlerCtx, cancel := context.WithTimeout(ctx, e.cfg.DefaultHandlerTimeout)
		defer cancel()
		tc.Rebind(handlerCtx)
	}

	output, handlerErr := e.invoke(reg.Handler, tc, msg.Args)
	if handlerErr != nil {
		return e.handleException(ctx, tc, msg, state, entered, handlerErr, workerDone, span)
	}

	result := domain.NewResult(msg.ID, domain.ResultSuccess)
	result.Result = output
	result.CompletedAt = time.Now()
	result.Duration = time.Since(now)
	result.Metadata = latestMetadata(tc.DrainStateUpdates())
	e.store(ctx, msg, result)
	e.pipeline.RunPost(ctx, tc, state, entered)
	span.SetStatus(codes.Ok, "success")
	return Outcome{State: OutcomeSuccess}
}

func (e *Executor) invoke(handler registry.Handler, tc *taskcontext.Context, args []byte) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(tc, args)
}

func (e *Executor) handleException(
	ctx context.Context,
	tc *taskcontext.Context,
	msg domain.TaskMessage,
	state *filter.State,
	entered int,
	handlerErr error,
	workerDone <-chan struct{},
	span trace.Span,
) Outcome {
	handled := e.pipeline.RunException(ctx, tc, state, entered, handlerErr)
	defer e.pipeline.RunPost(ctx, tc, state, entered)

	if retryReq, ok := taskcontext.AsRetryRequest(handlerErr); ok {
		outcome := e.classifyRetry(msg, retryReq.Countdown, false, retryReq.Cause)
		e.storeRetryResult(ctx, msg, outcome)
		span.SetStatus(codes.Ok, "retry requested")
		return outcome
	}

	select {
	case <-workerDone:
		e.store(ctx, msg, domain.NewResult(msg.ID, domain.ResultRequeued))
		span.SetStatus(codes.Ok, "requeued on shutdown")
		return Outcome{State: OutcomeRequeued}
	default:
	}

	if errors.Is(handlerErr, context.Canceled) {
		// The per-delivery token may have been cancelled by a revocation
		// event; the store checks must outlive it.
		bg := context.WithoutCancel(ctx)
		if revoked, err := e.revocations.IsRevoked(bg, msg.ID); err == nil && revoked {
			e.store(bg, msg, domain.NewResult(msg.ID, domain.ResultRevoked))
			span.SetStatus(codes.Ok, "revoked mid-flight")
			return Outcome{State: OutcomeRevoked}
		}
		e.store(bg, msg, domain.NewResult(msg.ID, domain.ResultRequeued))
		span.SetStatus(codes.Ok, "requeued on cancellation")
		return Outcome{State: OutcomeRequeued}
	}

	if handled {
		e.logger.Debug("exception handled by filter", "task_id", msg.ID, "error", handlerErr)
	}

	next := msg.NextAttempt()
	exc := &domain.Exception{Type: "HandlerError", Message: handlerErr.Error()}
	result := domain.NewResult(msg.ID, domain.ResultFailure)
	result.Exception = exc
	e.store(ctx, msg, result)

	if next.Retries >= next.MaxRetries {
		e.deadLetter.Handle(ctx, msg, deadletter.ReasonMaxRetriesExceeded, exc)
		span.SetStatus(codes.Error, "max retries exceeded")
		return Outcome{State: OutcomeFailure, Err: handlerErr, ExceptionType: exc.Type}
	}

	span.SetStatus(codes.Error, "retry after failure")
	return Outcome{State: OutcomeRetry, RetryMessage: next, Err: handlerErr}
}

// classifyRetry builds the next-attempt message. doNotIncrement retries
// (rate-limit back-pressure) are capped at cfg.MaxUncountedRetries via the
// message's own Retries counter once it exceeds that bound, forcing a
// counted attempt so a misbehaving policy cannot stall a task forever.
func (e *Executor) classifyRetry(msg domain.TaskMessage, countdown time.Duration, doNotIncrement bool, cause error) Outcome {
	next := msg
	if doNotIncrement && msg.Retries < e.cfg.MaxUncountedRetries {
		next.ETA = nil
		next.Timestamp = time.Now().UTC()
	} else {
		next = msg.NextAttempt()
	}
	return Outcome{
		State:        OutcomeRetry,
		RetryMessage: next,
		RetryAfter:   countdown,
		Err:          cause,
	}
}

func (e *Executor) storeRetryResult(ctx context.Context, msg domain.TaskMessage, outcome Outcome) {
	result := domain.NewResult(outcome.RetryMessage.ID, domain.ResultRetry)
	result.RetryAfter = outcome.RetryAfter
	e.store(ctx, msg, result)
}

func (e *Executor) store(ctx context.Context, msg domain.TaskMessage, result *domain.TaskResult) {
	if err := e.results.Store(ctx, result); err != nil {
		e.logger.Error("result backend store failed", "task_id", result.TaskID, "state", result.State, "error", err)
	}
	if result.State.IsTerminal() {
		errMsg := ""
		if result.Exception != nil {
			errMsg = result.Exception.Message
		}
		if e.signals != nil {
			completion := signal.Completion{TaskID: result.TaskID, State: result.State, Result: result.Result, Error: errMsg}
			if err := e.signals.Publish(ctx, completion); err != nil {
				e.logger.Error("signal publish failed", "task_id", result.TaskID, "error", err)
			}
		}
		if e.history != nil {
			completedAt := result.CompletedAt
			if completedAt.IsZero() {
				completedAt = time.Now()
			}
			rec := history.Record{
				TaskID:      result.TaskID,
				TaskName:    msg.Task,
				Queue:       msg.Queue,
				State:       result.State,
				Retries:     msg.Retries,
				Error:       errMsg,
				Duration:    result.Duration,
				CompletedAt: completedAt,
			}
			if err := e.history.Record(ctx, rec); err != nil {
				e.logger.Error("history record failed", "task_id", result.TaskID, "error", err)
			}
		}
	}
}

// seedPolicyProperties publishes the registration's policy descriptor onto
// the invocation's properties bag, where the policy-gated filters read it.
func seedPolicyProperties(tc *taskcontext.Context, policy registry.Policy) {
	if policy.PreventOverlapping {
		tc.SetProperty(singleflight.PropertyEnabled, true)
		if policy.OverlapUserKeyProperty != "" {
			tc.SetProperty(singleflight.PropertyUserKeyProperty, policy.OverlapUserKeyProperty)
		}
	}
}

func latestMetadata(updates []taskcontext.StateUpdate) map[string]any {
	if len(updates) == 0 {
		return nil
	}
	return updates[len(updates)-1].Metadata
}
