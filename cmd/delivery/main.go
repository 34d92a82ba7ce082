package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/jwalitptl/dispatch-api/config"
	"github.com/jwalitptl/dispatch-api/internal/repository/postgres"
	"github.com/jwalitptl/dispatch-api/internal/service/delivery"
	"github.com/jwalitptl/dispatch-api/internal/service/fallback"
	"github.com/jwalitptl/dispatch-api/internal/service/synthesis"
	"github.com/jwalitptl/dispatch-api/internal/telephony"
	"github.com/jwalitptl/dispatch-api/internal/worker"
	"github.com/jwalitptl/dispatch-api/pkg/cache"
	"github.com/jwalitptl/dispatch-api/pkg/httpserver"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/messaging/amqp"
	msgredis "github.com/jwalitptl/dispatch-api/pkg/messaging/redis"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.InfoLevel,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	}).WithFields(map[string]interface{}{"service": "delivery"})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis.ToCacheConfig())
	if err != nil {
		log.Fatal(err, "failed to connect to redis")
	}
	defer redisCache.Close()

	broker, err := msgredis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), log.Zerolog())
	if err != nil {
		log.Fatal(err, "failed to create broker")
	}
	defer broker.Close()

	taskQueue, err := amqp.NewQueue(cfg.AMQP.ToQueueConfig(), log.Zerolog())
	if err != nil {
		log.Fatal(err, "failed to connect to amqp")
	}
	defer taskQueue.Close()

	m := metrics.NewMetrics("dispatch", "delivery")

	smsTransport := delivery.NewHTTPTransport(delivery.HTTPTransportConfig{
		BaseURL: cfg.Collaborator.SMSProviderURL,
		APIKey:  cfg.Collaborator.SMSAPIKey,
		Timeout: cfg.Collaborator.Timeout,
	})
	telephonyClient := telephony.NewClient(telephony.Config{
		BaseURL: cfg.Collaborator.TelephonyURL,
		Timeout: cfg.Collaborator.Timeout,
	})
	synthClient := synthesis.NewClient(synthesis.Config{
		BaseURL: cfg.Collaborator.SynthesisURL,
		Timeout: cfg.Collaborator.Timeout,
	}, m)

	deliverySvc := delivery.NewService(smsTransport, telephonyClient, log, m)
	fallbackRepo := postgres.NewFallbackRepository(db)
	escalator := fallback.NewService(
		fallbackRepo,
		redisCache,
		synthClient,
		telephonyClient,
		fallback.Config{
			RetryAttempts: cfg.Fallback.RetryAttempts,
			RetryDelay:    cfg.Fallback.RetryDelay,
			GuardTTL:      cfg.Fallback.GuardTTL,
		},
		log, m,
	)

	retention := worker.NewRetentionWorker(fallbackRepo, cfg.Fallback.RetentionDays, cfg.Fallback.RetentionInterval, log)

	consumer := worker.NewDeliveryConsumer(
		taskQueue, broker, deliverySvc, escalator,
		worker.DeliveryConsumerConfig{
			QueueName:        cfg.AMQP.TaskQueue,
			LifecycleChannel: cfg.Events.LifecycleChannel,
		},
		log, m,
	)

	ops := httpserver.New(httpserver.Config{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, func(ctx context.Context) error {
		return db.PingContext(ctx)
	}, log)
	ops.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go retention.Start(ctx)

	log.Info("delivery worker started", "queue", cfg.AMQP.TaskQueue)
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error(err, "consumer stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "ops server shutdown failed")
	}
	log.Info("delivery worker stopped")
}
