package main

import (
	"context"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rogervilla2024/slotfeed-sub001/internal/config"
	"github.com/rogervilla2024/slotfeed-sub001/internal/coordinator"
	"github.com/rogervilla2024/slotfeed-sub001/internal/database"
	"github.com/rogervilla2024/slotfeed-sub001/internal/discovery"
	"github.com/rogervilla2024/slotfeed-sub001/internal/handlers"
	"github.com/rogervilla2024/slotfeed-sub001/internal/kafka"
	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/metrics"
	"github.com/rogervilla2024/slotfeed-sub001/internal/monitoring"
	"github.com/rogervilla2024/slotfeed-sub001/internal/processor"
	"github.com/rogervilla2024/slotfeed-sub001/internal/publisher"
	"github.com/rogervilla2024/slotfeed-sub001/internal/queue"
	"github.com/rogervilla2024/slotfeed-sub001/internal/redisx"
	"github.com/rogervilla2024/slotfeed-sub001/internal/results"
	"github.com/rogervilla2024/slotfeed-sub001/internal/server"
	"github.com/rogervilla2024/slotfeed-sub001/internal/store"
	"github.com/rogervilla2024/slotfeed-sub001/internal/version"
	"github.com/rogervilla2024/slotfeed-sub001/internal/websocket"
	"github.com/rogervilla2024/slotfeed-sub001/internal/worker"
)

const serviceName = "slotfeed"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)
	cfg := config.Load()

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting Slotfeed")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The queue and the results bus live in Redis; without it the pipeline
	// cannot run at all.
	redisClient, err := redisx.NewClientFromURL(ctx, cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	pgCfg := database.DefaultConfig()
	pgCfg.URL = cfg.PostgresURL
	db := database.MustConnect(pgCfg, logger)
	defer db.Close()

	chConn := database.MustConnectClickHouseNative(database.ClickHouseConfig{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	}, logger)
	defer chConn.Close()

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		logger.WithField("brokers", cfg.KafkaBrokers).Info("Kafka alert producer enabled")
	} else {
		logger.Info("KAFKA_BROKERS unset, alert producer disabled")
	}

	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GetShortCommit())
	m := metrics.New(metricsCollector)

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  cfg.PostgresURL,
		"DISCOVERY_URL": cfg.DiscoveryBaseURL,
	}))

	jobQueue := queue.New(redisClient, queue.Config{LeaseTTL: cfg.JobLeaseTTL}, logger)
	resultBus := results.NewBus(redisClient, results.Config{LatestTTL: cfg.LatestTTL}, logger)

	validator := processor.New(processor.Config{
		ConfidenceThreshold:  cfg.ConfidenceThreshold,
		OutlierStdThreshold:  cfg.OutlierStdThreshold,
		HistoryWindow:        cfg.HistoryWindow,
		MinSamplesForOutlier: 5,
		ZeroVarianceRelDiff:  0.5,
		BonusMultiplier:      10,
	}, logger)

	hub := websocket.NewHub(logger, m)
	sessions := store.NewSessionStore(db, logger)
	sink := store.NewEventSink(chConn, logger)

	pub := publisher.New(publisher.Config{
		FlushInterval:    cfg.FlushInterval,
		BigWinMultiplier: cfg.BigWinMultiplier,
		DepositRatio:     cfg.DepositRatio,
		RecentLimit:      cfg.RecentEventsLimit,
	}, validator, resultBus, sink, sessions, resultBus, producer, hub, logger, m)

	discoveryClient := discovery.NewClient(discovery.DefaultConfig(cfg.DiscoveryBaseURL), logger)
	coord := coordinator.New(coordinator.Config{
		Targets:           cfg.DiscoveryTargets,
		Platform:          "kick",
		DiscoveryInterval: cfg.DiscoveryInterval,
		CallDelay:         cfg.DiscoveryCallDelay,
		JobInterval:       cfg.JobInterval,
	}, discoveryClient, jobQueue, sessions, pub, hub, logger, m)

	frames := worker.NewHTTPFrameSource(0)
	engine := worker.NewHTTPEngine(cfg.OCREngineURL, 0)
	pool := worker.NewPool(cfg.WorkerCount, worker.Config{
		DequeueTimeout:    cfg.DequeueTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DropRatioFloor:    cfg.DropRatioFloor,
	}, jobQueue, frames, engine, resultBus, logger, m)

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	handlers.New(jobQueue, coord, pub, hub, logger, m).RegisterRoutes(router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pub.Run(ctx) })
	g.Go(func() error { return coord.Run(ctx) })
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error {
		srvCfg := server.DefaultConfig(serviceName, cfg.Port)
		return server.Start(ctx, srvCfg, router, logger)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("Service exited with error")
	}
	logger.Info("Slotfeed shut down cleanly")
}
