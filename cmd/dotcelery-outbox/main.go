// Command dotcelery-outbox runs the two background dispatchers that move
// durable rows onto the broker: the transactional-outbox dispatcher
// (pending outbox rows, in sequence order) and the delayed-message
// dispatcher (due ETA rows).
//
// Run one instance per outbox store, or shard sequence ranges across
// instances; published order is only guaranteed from a single dispatcher's
// point of view.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/config"
	"github.com/dotcelery/dotcelery/internal/delayed"
	"github.com/dotcelery/dotcelery/internal/outbox"
	"github.com/dotcelery/dotcelery/internal/platform"
	"github.com/dotcelery/dotcelery/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting dotcelery-outbox")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := platform.NewPostgresPool(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("postgres connect failed; the outbox daemon has no in-memory fallback", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	brk := buildBroker(cfg, logger)

	var wg sync.WaitGroup

	outboxDispatcher := outbox.New(outbox.NewPostgres(pool), brk, cfg.OutboxConfig(), logger)
	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxDispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		outboxDispatcher.RunCleanup(ctx, cfg.OutboxCleanupInterval)
	}()

	if cfg.WorkerUseDelayQueue {
		delayedDispatcher := delayed.New(delayed.NewPostgres(pool), brk, cfg.DelayedConfig(), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			delayedDispatcher.Run(ctx)
		}()
	}

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

	<-ctx.Done()
	wg.Wait()
	logger.Info("dotcelery-outbox stopped")
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
