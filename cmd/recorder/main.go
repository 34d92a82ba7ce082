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
	"github.com/jwalitptl/dispatch-api/internal/service/compliance"
	"github.com/jwalitptl/dispatch-api/internal/service/outcome"
	"github.com/jwalitptl/dispatch-api/internal/worker"
	"github.com/jwalitptl/dispatch-api/pkg/cache"
	"github.com/jwalitptl/dispatch-api/pkg/httpserver"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
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
	}).WithFields(map[string]interface{}{"service": "recorder"})

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

	m := metrics.NewMetrics("dispatch", "recorder")

	recordRepo := postgres.NewCallRecordRepository(db)
	dtmfRepo := postgres.NewDTMFActionRepository(db)
	contactRepo := postgres.NewContactRepository(db)
	campaignRepo := postgres.NewCampaignRepository(db)
	blacklistRepo := postgres.NewBlacklistRepository(db)

	guard := compliance.NewService(blacklistRepo, redisCache, log, m)
	actions := outcome.NewActionDispatcher(
		campaignRepo, dtmfRepo, guard, broker, redisCache,
		cfg.Events.DonationChannel, log, m,
	)
	recorder := outcome.NewService(recordRepo, contactRepo, redisCache, actions, log, m)

	consumer := worker.NewEventConsumer(broker, recorder, cfg.Events.LifecycleChannel, log)

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

	log.Info("outcome recorder started", "channel", cfg.Events.LifecycleChannel)
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error(err, "consumer stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "ops server shutdown failed")
	}
	log.Info("outcome recorder stopped")
}
