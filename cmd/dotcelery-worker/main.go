// Command dotcelery-worker executes tasks pulled from the broker.
//
// The worker:
//   - consumes deliveries from one or more queues
//   - runs each through the filter pipeline (security, tenant context,
//     partition locking, single-flight dedup) and the registered handler
//   - republishes retries as the executor classifies them (immediately, or
//     after a requested countdown)
//   - republishes future-ETA deliveries through the delayed dispatcher
//   - records outcomes on the result backend and the kill switch
//
// Workers scale horizontally; each instance competes for deliveries on the
// same queues.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dotcelery/dotcelery/internal/api"
	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/config"
	"github.com/dotcelery/dotcelery/internal/deadletter"
	"github.com/dotcelery/dotcelery/internal/delayed"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/executor"
	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/history"
	"github.com/dotcelery/dotcelery/internal/inbox"
	"github.com/dotcelery/dotcelery/internal/killswitch"
	"github.com/dotcelery/dotcelery/internal/outbox"
	"github.com/dotcelery/dotcelery/internal/partition"
	"github.com/dotcelery/dotcelery/internal/platform"
	"github.com/dotcelery/dotcelery/internal/ratelimit"
	"github.com/dotcelery/dotcelery/internal/registry"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/revocation"
	"github.com/dotcelery/dotcelery/internal/saga"
	"github.com/dotcelery/dotcelery/internal/serializer"
	signalbus "github.com/dotcelery/dotcelery/internal/signal"
	"github.com/dotcelery/dotcelery/internal/singleflight"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
	"github.com/dotcelery/dotcelery/internal/telemetry"
	"github.com/dotcelery/dotcelery/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting dotcelery-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.OTELEnabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.OTELServiceName, cfg.OTELExporterOTLPEndpoint)
		if err != nil {
			logger.Warn("failed to init tracer, continuing without tracing", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	brk := buildBroker(cfg, logger)
	redisClient := buildRedisClient(ctx, cfg, logger)
	pgPool := buildPostgresPool(ctx, cfg, logger)

	results := buildResultBackend(cfg, redisClient)
	revocations := buildRevocationStore(cfg, redisClient)
	lock := buildPartitionLock(cfg, redisClient)
	overlap := buildSingleflightTracker(cfg, redisClient)
	limiter := buildRateLimiter(redisClient)
	dedup := buildInboxStore(pgPool)

	signals := signalbus.NewMemory()
	sagaStore := saga.Store(saga.NewMemory())
	if pgPool != nil {
		sagaStore = saga.NewPostgres(pgPool)
	}
	orchestrator := saga.New(sagaStore, brk, signals, domain.NewID, cfg.SagaConfig(), logger)
	go func() {
		if err := orchestrator.Run(ctx); err != nil {
			logger.Error("saga orchestrator stopped with error", "error", err)
		}
	}()

	dlStore := deadletter.Store(deadletter.NewMemory())
	if pgPool != nil {
		dlStore = deadletter.NewPostgres(pgPool)
	}
	dlHandler := deadletter.New(dlStore, cfg.DeadLetterConfig(), logger, domain.NewID)

	historyStore := history.Store(history.NewMemory())
	if pgPool != nil {
		historyStore = history.NewPostgres(pgPool)
	}

	ser := serializer.JSON{}
	taskRegistry := registry.New()

	ks := killswitch.New(cfg.KillSwitchConfig())

	pipeline := filter.New(logger,
		filter.NewSecurityValidationFilter(cfg.SecurityConfig()),
		filter.NewTenantContextFilter(),
		filter.NewQueueMetricsFilter(metrics),
		partition.NewExecutionFilter(lock, cfg.PartitionLockTimeout, cfg.PartitionRequeueDelay, logger),
		inbox.NewFilter(dedup, logger),
		singleflight.NewPreventOverlappingFilter(overlap, 5*time.Minute, logger),
		ratelimit.NewFilter(limiter, registryRateLimitPolicy(taskRegistry)),
	)

	exec := executor.New(taskRegistry, pipeline, results, revocations, dlHandler, ser, executor.DefaultConfig(), logger)
	exec.SetSignals(signals)
	exec.SetHistory(historyStore)

	var delayStore delayed.Store
	if cfg.WorkerUseDelayQueue {
		if pgPool != nil {
			delayStore = delayed.NewPostgres(pgPool)
		} else {
			delayStore = delayed.NewMemory()
		}
		dispatcher := delayed.New(delayStore, brk, cfg.DelayedConfig(), logger)
		go dispatcher.Run(ctx)
	}

	w := worker.New(brk, delayStore, exec, ks, cfg.WorkerConfig(), logger)
	w.SetRevocations(revocations)

	var outboxStore outbox.Store
	if cfg.OutboxEnabled {
		if pgPool != nil {
			outboxStore = outbox.NewPostgres(pgPool)
		} else {
			outboxStore = outbox.NewMemory()
		}
		outboxDispatcher := outbox.New(outboxStore, brk, cfg.OutboxConfig(), logger)
		go outboxDispatcher.Run(ctx)
		go outboxDispatcher.RunCleanup(ctx, cfg.OutboxCleanupInterval)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	apiHandler := api.NewHandler(api.Config{
		Results:     results,
		Revocations: revocations,
		Sagas:       orchestrator,
		Partitions:  lock,
		KillSwitch:  ks,
		DeadLetters: dlStore,
		History:     historyStore,
		Logger:      logger,
	})
	apiHandler.RegisterRoutes(mux)

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Error("worker stopped with error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	w.Stop()
	logger.Info("dotcelery-worker stopped")
}

func buildBroker(cfg config.Config, logger *slog.Logger) broker.Broker {
	if cfg.BrokerKind != "rabbitmq" {
		return broker.NewMemory()
	}
	rmq, err := broker.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq not available, falling back to in-memory broker", "error", err)
		return broker.NewMemory()
	}
	return rmq
}

// buildRedisClient opens a shared Redis connection for every collaborator
// keyed on ResultBackendKind == "redis". Returns nil when Redis isn't
// configured or isn't reachable; callers fall back to their in-memory
// implementation in that case.
func buildRedisClient(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.ResultBackendKind != "redis" {
		return nil
	}
	rc, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis not available, falling back to in-memory backends", "error", err)
		return nil
	}
	return rc
}

// buildPostgresPool opens the shared Postgres pool backing the durable
// stores (inbox, outbox, delayed, saga, dead-letter, history). Returns nil
// when Postgres isn't reachable; callers fall back to their in-memory
// implementation in that case.
func buildPostgresPool(ctx context.Context, cfg config.Config, logger *slog.Logger) *pgxpool.Pool {
	pool, err := platform.NewPostgresPool(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Warn("postgres not available, falling back to in-memory stores", "error", err)
		return nil
	}
	return pool
}

func buildResultBackend(cfg config.Config, rc *redis.Client) resultbackend.Backend {
	if rc == nil {
		return resultbackend.NewMemory()
	}
	return resultbackend.NewRedis(rc, cfg.ResultTTL)
}

func buildRevocationStore(cfg config.Config, rc *redis.Client) revocation.Store {
	if rc == nil {
		return revocation.NewMemory()
	}
	return revocation.NewRedis(rc)
}

func buildPartitionLock(cfg config.Config, rc *redis.Client) partition.Lock {
	if rc == nil {
		return partition.NewMemory()
	}
	return partition.NewRedis(rc)
}

func buildInboxStore(pool *pgxpool.Pool) inbox.Store {
	if pool == nil {
		return inbox.NewMemory()
	}
	return inbox.NewPostgres(pool)
}

func buildSingleflightTracker(cfg config.Config, rc *redis.Client) singleflight.Tracker {
	if rc == nil {
		return singleflight.NewMemory()
	}
	return singleflight.NewRedis(rc)
}

func buildRateLimiter(rc *redis.Client) ratelimit.Limiter {
	if rc == nil {
		return ratelimit.NewMemory()
	}
	return ratelimit.NewRedis(rc)
}

// registryRateLimitPolicy resolves the rate-limit filter's per-invocation
// policy from the task's registration descriptor.
func registryRateLimitPolicy(reg *registry.Registry) func(tc *taskcontext.Context) (string, ratelimit.Policy, bool) {
	return func(tc *taskcontext.Context) (string, ratelimit.Policy, bool) {
		r, err := reg.Get(tc.TaskName())
		if err != nil || r.Policy.RateLimit == nil {
			return "", ratelimit.Policy{}, false
		}
		rl := r.Policy.RateLimit
		return rl.ResourceKey, ratelimit.Policy{Limit: rl.Limit, Window: rl.Window}, true
	}
}
