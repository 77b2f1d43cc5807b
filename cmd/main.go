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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/audit"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/circuitbreaker"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/config"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/dispatcher"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/fcm"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/health"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/idempotency"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/processor"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/rabbitmq"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/retry"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/template"
)

func main() {
	logger.Init()
	log := logger.WithComponent("main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create postgres pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping postgres")
	}
	log.Info().Msg("postgres connected")

	// --- Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping redis")
	}
	log.Info().Msg("redis connected")

	// --- RabbitMQ
	broker, err := rabbitmq.Connect(cfg.RabbitURL, cfg.PushQueueName, cfg.FailedQueueName, cfg.PrefetchCount)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer broker.Close()

	// --- Pipeline
	retryCfg := retry.Config{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialDelay:      cfg.RetryInitialDelay,
		MaxDelay:          cfg.RetryMaxDelay,
		BackoffMultiplier: cfg.RetryBackoffMultiplier,
	}
	breakerSettings := circuitbreaker.Settings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
	}
	templateBreaker := circuitbreaker.New("template_service", redisClient, breakerSettings)
	fcmBreaker := circuitbreaker.New("fcm", redisClient, breakerSettings)

	templates := template.NewClient(cfg.TemplateServiceURL, templateBreaker, retryCfg)
	pushClient, err := fcm.NewClient(ctx, cfg.FCMProjectID, fcmBreaker, retryCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create FCM client")
	}

	idemStore := idempotency.NewStore(redisClient, cfg.IdempotencyTTL, retryCfg)
	auditStore := audit.NewStore(pool)

	proc := processor.New(idemStore, templates, pushClient, auditStore)
	disp := dispatcher.New(broker, proc, cfg.WorkerConcurrency)

	// --- HTTP (health, status lookup, metrics)
	checker := health.NewChecker(auditStore, redisClient, broker, templateBreaker, fcmBreaker)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           health.NewRouter(checker, auditStore),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	// --- Consume
	deliveries, err := broker.CreateConsumer()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start consumer")
	}

	log.Info().
		Str("queue", cfg.PushQueueName).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("push worker started")

	runErr := disp.Run(ctx, deliveries)
	switch {
	case runErr == nil:
		// Broker closed the stream; nothing more will be delivered.
		log.Warn().Msg("delivery stream ended")
	case errors.Is(runErr, context.Canceled):
		log.Info().Msg("shutdown signal received")
	default:
		log.Error().Err(runErr).Msg("dispatcher stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	log.Info().Msg("push worker stopped")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		os.Exit(1)
	}
}
