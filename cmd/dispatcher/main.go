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
	"github.com/jwalitptl/dispatch-api/internal/service/dispatch"
	"github.com/jwalitptl/dispatch-api/internal/service/eligibility"
	"github.com/jwalitptl/dispatch-api/internal/service/prediction"
	"github.com/jwalitptl/dispatch-api/internal/worker"
	"github.com/jwalitptl/dispatch-api/pkg/cache"
	"github.com/jwalitptl/dispatch-api/pkg/httpserver"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
	"github.com/jwalitptl/dispatch-api/pkg/messaging/amqp"
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
	}).WithFields(map[string]interface{}{"service": "dispatcher"})

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

	taskQueue, err := amqp.NewQueue(cfg.AMQP.ToQueueConfig(), log.Zerolog())
	if err != nil {
		log.Fatal(err, "failed to connect to amqp")
	}
	defer taskQueue.Close()

	m := metrics.NewMetrics("dispatch", "dispatcher")

	campaignRepo := postgres.NewCampaignRepository(db)
	contactRepo := postgres.NewContactRepository(db)
	blacklistRepo := postgres.NewBlacklistRepository(db)

	guard := compliance.NewService(blacklistRepo, redisCache, log, m)
	elig := eligibility.NewService(contactRepo, guard, log, m)
	predictor := prediction.NewClient(prediction.Config{
		BaseURL: cfg.Collaborator.PredictionURL,
		Timeout: cfg.Collaborator.Timeout,
	}, log)
	dispatcher := dispatch.NewService(contactRepo, taskQueue, dispatch.Config{
		TaskQueue:     cfg.AMQP.TaskQueue,
		MaxBatchSize:  cfg.Dispatch.MaxBatchSize,
		RatePerSecond: cfg.Dispatch.RatePerSecond,
		Burst:         cfg.Dispatch.Burst,
	}, log, m)

	cycle := worker.NewDispatchCycleWorker(
		campaignRepo, contactRepo, elig, dispatcher, predictor,
		worker.DispatchCycleConfig{
			Interval:       cfg.Dispatch.CycleInterval,
			SelectLimit:    cfg.Dispatch.SelectLimit,
			PredictionSize: cfg.Dispatch.PredictionSize,
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

	log.Info("dispatcher started", "cycle_interval", cfg.Dispatch.CycleInterval.String())
	cycle.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "ops server shutdown failed")
	}
	log.Info("dispatcher stopped")
}
