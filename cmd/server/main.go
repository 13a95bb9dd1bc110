// The server binary is the notification ingress: it accepts HTTP
// submissions, applies rate limiting and idempotency, and publishes
// accepted notifications to the durable queue fabric.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/handler"
	"github.com/Wei-Shaw/notifyhub/internal/mq"
	"github.com/Wei-Shaw/notifyhub/internal/pkg/logger"
	"github.com/Wei-Shaw/notifyhub/internal/repository"
	"github.com/Wei-Shaw/notifyhub/internal/server"
	"github.com/Wei-Shaw/notifyhub/internal/service"
)

func main() {
	logger.InitBootstrap()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.OptionsFromConfig(cfg.Log)); err != nil {
		slog.Error("logger_init_failed", "error", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		slog.Error("server_exited", "error", err)
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

	publisher := mq.NewPublisher(broker, cfg)
	rateLimit := service.NewRateLimitService(repository.NewRateLimitStore(rdb), cfg)
	idempotency := service.NewIdempotencyService(repository.NewIdempotencyStore(rdb), cfg)
	enqueue := service.NewEnqueueService(idempotency, publisher)

	engine := server.SetupRouter(cfg, &server.Handlers{
		Notification: handler.NewNotificationHandler(rateLimit, enqueue),
		Health:       handler.NewHealthHandler(publisher),
	})
	srv := server.NewHTTPServer(cfg, engine)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("server_shutting_down")
	// New work stops first; the broker and store stay up until in-flight
	// requests have drained.
	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Warn("http_shutdown_incomplete", "error", err)
	}
	return nil
}
