// The worker binary consumes the per-channel queues and drives deliveries
// through the senders, retrying transient failures and dead-lettering the
// rest.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/mq"
	"github.com/Wei-Shaw/notifyhub/internal/pkg/logger"
	"github.com/Wei-Shaw/notifyhub/internal/repository"
	"github.com/Wei-Shaw/notifyhub/internal/service"
)

func main() {
	logger.InitBootstrap()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logOpts := logger.OptionsFromConfig(cfg.Log)
	logOpts.ServiceName = "notifyhub-worker"
	if err := logger.Init(logOpts); err != nil {
		slog.Error("logger_init_failed", "error", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker_exited", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := repository.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	broker := mq.NewClient(cfg)
	if err := broker.Connect(ctx); err != nil {
		return err
	}
	defer broker.Close()

	registry := service.NewSenderRegistry(
		service.NewEmailSender(cfg),
		service.NewSMSSender(cfg),
		service.NewPushSender(cfg),
	)
	worker := service.NewWorkerService(
		registry,
		repository.NewDeliveredStore(rdb),
		mq.NewPublisher(broker, cfg),
		cfg,
	)
	consumer := mq.NewConsumer(broker, worker, cfg)

	slog.Info("worker_started",
		"prefetch", cfg.Worker.Prefetch,
		"max_retries", cfg.Worker.MaxRetries,
		"force_failure", cfg.Worker.ForceFailure,
	)

	err = consumer.Run(ctx)
	slog.Info("worker_shutting_down")
	// Unacked in-flight deliveries return to their queues when the
	// connection closes.
	return err
}
