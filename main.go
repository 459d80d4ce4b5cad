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

	"social-publisher/domain/repository"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/crypto"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/persistence"
	"social-publisher/infrastructure/platform"
	"social-publisher/infrastructure/pubsub"
	"social-publisher/infrastructure/realtime"
	"social-publisher/infrastructure/servicebus"
	httpHandler "social-publisher/interfaces/http"
	"social-publisher/interfaces/middleware"
	"social-publisher/server"
	"social-publisher/usecase"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

var httpServer *http.Server

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	cfg := configuration.C
	app := cfg.App

	cipher, err := crypto.NewCipher(app.TokenSecret)
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Token encryption is not configured")
	}

	psqlDb, err := persistence.NewPostgreSQLDB()
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Cannot connect to PostgreSQL")
	}
	defer psqlDb.Close()
	if err := persistence.EnsureSchema(psqlDb, platform.DisplayNames); err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Ensuring schema failed")
	}
	logger.GetLogger().Info("Database connected.")

	store, redisClient := initiateStore(ctx, cfg.RedisClient)
	limitStore, err := cache.NewRateLimitStore(redisClient)
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Rate limit store could not be created")
	}
	audit, mongoPing := initiateAudit(ctx, cfg.Database.Mongo)
	events, stopEvents := initiateEvents(ctx, cfg.Pubsub)
	defer stopEvents()

	hub := realtime.NewStatusHub()
	fanOut := usecase.StatusFanOut{hub}
	if events != nil {
		fanOut = append(fanOut, events)
	}

	registry := platform.NewRegistryFromConfig(cfg.OAuth, &http.Client{Timeout: 30 * time.Second})
	logger.GetLogger().WithField("platforms", registry.Platforms()).Info("Platform adapters registered")

	accountRepository := persistence.NewSocialAccountRepository(psqlDb)
	postRepository := persistence.NewPostRepository(psqlDb)
	ledgerRepository := persistence.NewPostAccountRepository(psqlDb)

	connectionUsecase := usecase.NewConnectionUsecase(accountRepository, registry, store, cipher, usecase.ConnectionConfig{
		StateTTL:      cfg.OAuth.StateTTL,
		RefreshBuffer: cfg.Scheduler.RefreshBuffer,
		SweepBatch:    cfg.Scheduler.BatchSize,
	})
	publisher := usecase.NewPublisher(postRepository, ledgerRepository, accountRepository, registry, connectionUsecase, fanOut, audit, cfg.Scheduler.PublishTimeout)

	dispatchCfg := usecase.DispatchConfig{
		BatchSize:       cfg.Scheduler.BatchSize,
		Concurrency:     cfg.Scheduler.DispatchConcurrency,
		PollInterval:    cfg.Scheduler.PollInterval,
		SweepInterval:   cfg.Scheduler.SweepInterval,
		RefreshInterval: cfg.Scheduler.RefreshInterval,
	}
	dispatcher, queue := initiateDispatcher(&cfg, publisher, ledgerRepository, connectionUsecase, dispatchCfg)
	distributionUsecase := usecase.NewDistributionUsecase(postRepository, ledgerRepository, accountRepository, publisher, dispatcher, cfg.Scheduler.DispatchConcurrency)

	checks := map[string]httpHandler.Pinger{"postgres": psqlDb.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if mongoPing != nil {
		checks["mongo"] = mongoPing
	}
	router := server.InitiateRouter(
		server.RouterConfig{SecretKey: app.SecretKey, AllowedOrigins: app.AllowedOrigins},
		server.Handlers{
			Health:     httpHandler.NewHealthHandler(checks),
			Connection: httpHandler.NewConnectionHandler(connectionUsecase, app.ConnectedRedirect),
			Post:       httpHandler.NewPostHandler(distributionUsecase),
			Stream:     hub.Serve,
			Limiter:    middleware.RateLimit(limitStore, cfg.RateLimit.Requests, cfg.RateLimit.Window),
		},
	)

	g.Go(func() error {
		return dispatcher.Start(ctx)
	})

	port := app.Port
	logger.GetLogger().WithFields(map[string]interface{}{"port": port, "tls": app.TLSEnabled}).Info("Starting application")
	g.Go(func() error {
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if app.TLSEnabled {
			cert := app.TLSCertFile
			key := app.TLSKeyFile
			if cert == "" || key == "" {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			} else {
				logger.GetLogger().WithFields(map[string]interface{}{"cert": cert, "key": key}).Info("Serving HTTPS")
				if err := httpServer.ListenAndServeTLS(cert, key); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}
		} else {
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if queue != nil {
		if err := queue.Close(shutdownCtx); err != nil {
			logger.GetLogger().WithField("error", err).Warn("Closing job queue failed")
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
	logger.GetLogger().Info("Application stopped")
}

// initiateStore prefers Redis and falls back to process memory for single-instance runs.
// The returned client is nil when Redis is not in use.
func initiateStore(ctx context.Context, cfg configuration.RedisClient) (repository.ICorrelationStore, redis.UniversalClient) {
	if cfg.Host == "" {
		logger.GetLogger().Warn("Redis not configured - using in-memory correlation and rate limit stores")
		return cache.NewMemoryStore(), nil
	}
	client, err := cache.NewCache(ctx, fmt.Sprintf("%s:%s", cfg.Host, cfg.Port), cfg.Username, cfg.Password, cfg.DB)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - using in-memory correlation and rate limit stores")
		return cache.NewMemoryStore(), nil
	}
	return cache.NewRedisStore(client, "social-publisher:"), client
}

func initiateAudit(ctx context.Context, cfg configuration.Db) (repository.IPublishAudit, httpHandler.Pinger) {
	client, err := persistence.NewMongoDb(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
	if err != nil {
		logger.GetLogger().WithField("error", err).Info("MongoDB not configured - publish audit disabled")
		return persistence.NoopPublishAudit{}, nil
	}
	if err := client.Ping(ctx, nil); err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB ping failed - publish audit disabled")
		return persistence.NoopPublishAudit{}, nil
	}
	logger.GetLogger().Info("MongoDB connected successfully")
	name := cfg.Name
	if name == "" {
		name = "social_publisher"
	}
	return persistence.NewPublishAuditRepository(client, name), func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}
}

func initiateEvents(ctx context.Context, cfg configuration.Pubsub) (repository.IStatusPublisher, func()) {
	noop := func() {}
	if cfg.ProjectID == "" {
		return nil, noop
	}
	client, err := pubsub.NewPubSub(ctx, cfg.ProjectID)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while instantiate PubSub")
		return nil, noop
	}
	publisher, err := pubsub.NewStatusPublisher(ctx, client, cfg.StatusTopic)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Status topic not available")
		_ = client.Close()
		return nil, noop
	}
	return publisher, func() {
		publisher.Stop()
		_ = client.Close()
	}
}

// initiateDispatcher picks the scheduling strategy. Queue mode without a
// reachable Service Bus runs on the in-process queue.
func initiateDispatcher(
	cfg *configuration.Config,
	publisher *usecase.Publisher,
	ledger repository.IPostAccount,
	connections usecase.IConnectionUsecase,
	dispatchCfg usecase.DispatchConfig,
) (usecase.Dispatcher, repository.IJobQueue) {
	mode := cfg.ResolveSchedulerMode()
	logger.GetLogger().WithField("mode", mode).Info("Scheduler mode resolved")
	if mode == configuration.SchedulerModePolling {
		return usecase.NewPollingDispatcher(publisher, ledger, connections, dispatchCfg), nil
	}

	var queue repository.IJobQueue
	client, err := servicebus.NewServiceBus(cfg.ServiceBus.Namespace, cfg.ServiceBus.ConnectionString)
	if err == nil {
		queue, err = servicebus.NewJobQueue(client, cfg.ServiceBus.Queue, dispatchCfg.Concurrency)
	}
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Azure Service Bus not available - using in-process job queue")
		queue = servicebus.NewLocalQueue(dispatchCfg.Concurrency)
	}
	return usecase.NewQueueDispatcher(queue, publisher, ledger, connections, dispatchCfg), queue
}
