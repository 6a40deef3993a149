// Command dotcelery-beat dispatches tasks on their registered cron
// schedules. It polls the schedule store once per tick, sends every due
// entry through the client, and reschedules each entry to its next cron
// occurrence.
//
// Run exactly one beat instance per schedule store; beat holds no leader
// lock, so concurrent instances would double-dispatch due entries.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotcelery/dotcelery/internal/beat"
	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/client"
	"github.com/dotcelery/dotcelery/internal/config"
	"github.com/dotcelery/dotcelery/internal/outbox"
	"github.com/dotcelery/dotcelery/internal/platform"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/serializer"
	"github.com/dotcelery/dotcelery/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting dotcelery-beat")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brk := buildBroker(cfg, logger)

	backend := resultbackend.Backend(resultbackend.NewMemory())
	if cfg.ResultBackendKind == "redis" {
		if rc, err := platform.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			logger.Warn("redis not available, falling back to in-memory result backend", "error", err)
		} else {
			backend = resultbackend.NewRedis(rc, cfg.ResultTTL)
		}
	}

	store := beat.Store(beat.NewMemory())
	var outboxStore outbox.Store
	pool, err := platform.NewPostgresPool(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Warn("postgres not available, falling back to in-memory schedule store", "error", err)
	} else {
		defer pool.Close()
		store = beat.NewPostgres(pool)
		if cfg.OutboxEnabled {
			outboxStore = outbox.NewPostgres(pool)
		}
	}

	c := client.New(brk, outboxStore, serializer.JSON{}, backend, cfg.ClientConfig())
	scheduler := beat.New(store, c, cfg.BeatConfig(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	scheduler.Run(ctx, cfg.BeatTickInterval)
	logger.Info("dotcelery-beat stopped")
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
