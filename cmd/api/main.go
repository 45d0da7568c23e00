package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classsync/internal/account"
	"classsync/internal/api"
	"classsync/internal/attendance"
	"classsync/internal/config"
	"classsync/internal/live"
	"classsync/internal/logger"
	"classsync/internal/notify"
	"classsync/internal/queue"
	"classsync/internal/store"
)

const eventsQueueKey = "classsync:events"

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

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	health := map[string]api.Checker{
		"db": func(ctx context.Context) bool { return st.Ping(ctx) == nil },
	}

	var (
		q      queue.Queue
		broker live.Broker
	)
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
		broker = live.NewMemoryBroker()
	} else {
		redisClient, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
		q = queue.NewRedisQueue(redisClient.Client, eventsQueueKey)
		broker = live.NewRedisBroker(redisClient.Client)
		health["redis"] = redisClient.Healthy
	}

	svc := attendance.NewService(st, attendance.NewQueuePublisher(q), log.Named("attendance"),
		attendance.WithCodeLength(cfg.SessionCodeLength))

	// without a shared queue there is no worker, so its loops run here
	if cfg.QueueBackend == "memory" {
		dispatcher := notify.NewDispatcher(notify.NewStoreSink(st), broker, log.Named("notify"))
		go func() {
			if err := dispatcher.Run(ctx, q); err != nil && ctx.Err() == nil {
				log.Error("dispatcher stopped", zap.Error(err))
			}
		}()
		go svc.RunSweeper(ctx, cfg.SweepInterval)
	}

	h := &api.Handler{
		Attendance: svc,
		Accounts: account.NewService(st, account.TokenConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		}, log.Named("account")),
		Inbox: notify.NewInbox(st),
		Hub:   live.NewHub(broker, log.Named("live"), allowOrigin(cfg.CORSOrigins)),
		Log:   log,
	}
	router := api.NewRouter(api.RouterConfig{
		JWTIssuer:       cfg.JWTIssuer,
		JWTSigningKey:   cfg.JWTSigningKey,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Health:          health,
	}, h)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func openStore(ctx context.Context, cfg config.App, log *zap.Logger) (attendance.Store, error) {
	if cfg.DatabaseDriver == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		return attendance.NewMemoryStore(), nil
	}
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := store.Open(openCtx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return attendance.NewSQLStore(db), nil
}

// allowOrigin matches websocket origins against the CORS allow list.
func allowOrigin(origins []string) func(string) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = true
	}
	return func(origin string) bool { return allowed[origin] }
}
