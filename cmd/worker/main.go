package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"classsync/internal/attendance"
	"classsync/internal/config"
	"classsync/internal/live"
	"classsync/internal/logger"
	"classsync/internal/notify"
	"classsync/internal/queue"
	"classsync/internal/store"
)

const eventsQueueKey = "classsync:events"

// Worker turns attendance events into notifications and live updates, and
// closes sessions whose window has passed.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	if cfg.QueueBackend != "redis" || cfg.DatabaseDriver == "memory" {
		return fmt.Errorf("worker needs QUEUE_BACKEND=redis and a database, got %s/%s; the API runs the worker loops itself otherwise",
			cfg.QueueBackend, cfg.DatabaseDriver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	db, err := store.Open(openCtx, cfg.DatabaseDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return fmt.Errorf("db connect failed: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(db, log); err != nil {
		return err
	}
	st := attendance.NewSQLStore(db)

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, eventsQueueKey)
	svc := attendance.NewService(st, attendance.NewQueuePublisher(q), log.Named("attendance"),
		attendance.WithCodeLength(cfg.SessionCodeLength))
	go svc.RunSweeper(ctx, cfg.SweepInterval)

	dispatcher := notify.NewDispatcher(notify.NewStoreSink(st), live.NewRedisBroker(redisClient.Client), log.Named("notify"))
	log.Info("worker started, waiting for events")
	if err := dispatcher.Run(ctx, q); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
