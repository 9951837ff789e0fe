package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/api"
	"github.com/notifyhub/dispatch/internal/config"
	"github.com/notifyhub/dispatch/internal/db"
	"github.com/notifyhub/dispatch/internal/dispatch"
	"github.com/notifyhub/dispatch/internal/metrics"
	"github.com/notifyhub/dispatch/internal/preference"
	"github.com/notifyhub/dispatch/internal/provider"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- queue broker ----
	redisClient, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck
	broker := queue.NewRedisBroker(redisClient)

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := repository.NewPgTransactionRepository(pool)
	prefRepo := repository.NewPgPreferenceRepository(pool)
	prefs := preference.NewStore(prefRepo)

	providers := provider.NewRegistry(
		provider.NewEmailProvider(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.EmailSender),
		provider.NewGatewayProvider("sms", cfg.SMSGatewayURL, cfg.SMSAPIKey, cfg.ProviderTimeout),
		provider.NewGatewayProvider("whatsapp", cfg.WhatsAppGatewayURL, cfg.WhatsAppAPIKey, cfg.ProviderTimeout),
		provider.NewGatewayProvider("push", cfg.PushGatewayURL, cfg.PushAPIKey, cfg.ProviderTimeout),
	)

	limiter := ratelimiter.New(cfg.ChannelRateLimits(), cfg.RateLimit)
	dispatcher := dispatch.NewDispatcher(repo, prefs, broker, providers, cfg.MaxRetryAttempts, logger)

	// ---- worker pools ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onSent, onRetry, onDeadLetter := m.WorkerHooks()
	hooks := worker.MetricHooks{OnSent: onSent, OnRetry: onRetry, OnDeadLetter: onDeadLetter}

	regularPool := worker.NewPool(
		queue.QueueRegular, cfg.QueueConcurrency,
		broker, repo, providers, limiter,
		cfg.BackoffFor, cfg.ProviderTimeout, logger, hooks,
	)
	priorityPool := worker.NewPool(
		queue.QueuePriority, cfg.PriorityQueueConcurrency,
		broker, repo, providers, limiter,
		cfg.BackoffFor, cfg.ProviderTimeout, logger, hooks,
	)
	regularPool.Start(workerCtx)
	priorityPool.Start(workerCtx)

	reconciler := worker.NewReconciler(repo, broker, cfg.ReconcileInterval, logger)
	go reconciler.Run(workerCtx)

	reaper := worker.NewReaper(repo, cfg.ReaperInterval, cfg.PendingTTL, logger)
	go reaper.Run(workerCtx)

	// Sample queue depths onto the Prometheus gauges.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				for _, name := range []string{queue.QueueRegular, queue.QueuePriority, queue.QueueDeadLetter} {
					stats, err := broker.Stats(workerCtx, name)
					if err != nil {
						continue
					}
					m.ObserveQueue(name, stats.Waiting, stats.Active)
				}
			}
		}
	}()

	// ---- HTTP server ----
	router := api.NewRouter(dispatcher, prefs, repo, broker, limiter, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal all workers to stop pulling new jobs.
	cancelWorkers()

	// 3. Wait for in-flight workers to finish their current job, bounded by
	// the shutdown deadline. Jobs that were dequeued but not acked stay in
	// the broker's active set; they are not redelivered on the next start.
	drained := make(chan struct{})
	go func() {
		regularPool.Wait()
		priorityPool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("worker drain deadline exceeded")
	}

	logger.Info("server stopped cleanly")
}
