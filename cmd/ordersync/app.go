package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/ordersync/internal/adapter/driven/redisqueue"
	"github.com/ericfisherdev/ordersync/internal/adapter/driven/simcompanies"
	sqliteadapter "github.com/ericfisherdev/ordersync/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/ordersync/internal/application"
	"github.com/ericfisherdev/ordersync/internal/config"
	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// app holds every wired component. Commands build one with openApp and must
// call close when done.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *sqliteadapter.DB
	redis *redis.Client

	credentials *sqliteadapter.CredentialRepo
	jobs        driven.JobQueue

	tokens    *application.TokenService
	orders    *application.OrderSyncService
	stats     *application.OrderStatsService
	queue     *application.QueueService
	scheduler *application.SyncScheduler
}

func openApp(ctx context.Context) (*app, error) {
	logger := slog.Default()

	// 1. Load configuration (fail fast on invalid values).
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	if !cfg.HasAccountCredentials() {
		logger.Warn("ORDERSYNC_EMAIL or ORDERSYNC_PASSWORD not set, credential renewal will fail")
	}

	// 2. Open database (dual reader/writer with WAL mode) and migrate.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Debug("database ready", "path", cfg.DBPath, "schema_version", version)

	// 3. Select the queue broker.
	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		rdb, err := redisqueue.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = rdb
		a.jobs = redisqueue.New(rdb, redisqueue.DefaultPrefix)
	default:
		a.jobs = sqliteadapter.NewJobQueue(db)
	}

	// 4. Wire adapters.
	a.credentials = sqliteadapter.NewCredentialRepo(db, key)
	buildingStore := sqliteadapter.NewBuildingRepo(db)
	orderStore := sqliteadapter.NewOrderRepo(db)
	client := simcompanies.NewClient(simcompanies.Config{
		BaseURL:           cfg.APIBaseURL,
		Email:             cfg.Email,
		Password:          cfg.Password,
		TimezoneOffset:    cfg.TimezoneOffset,
		RequestsPerSecond: cfg.APIRateLimit,
	})

	// 5. Wire services.
	retry := model.RetryPolicy{MaxAttempts: cfg.QueueAttempts, BackoffBase: cfg.BackoffBase}

	auth := application.NewAuthService(client, a.credentials, logger)
	a.tokens = application.NewTokenService(a.credentials, auth, cfg.RenewalThresholdDays, logger)
	a.orders = application.NewOrderSyncService(client, a.tokens, orderStore, buildingStore, logger)
	a.stats = application.NewOrderStatsService(orderStore, buildingStore, cfg.MaturationOffset, logger)

	a.queue = application.NewQueueService(a.jobs, application.QueueConfig{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		StallTimeout: cfg.StallTimeout,
		Retry:        retry,
	}, logger)
	a.queue.Register(model.JobNameSyncBuilding, application.NewSyncProcessor(a.orders, logger))

	loc, err := time.LoadLocation(cfg.CronTimezone)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load cron timezone: %w", err)
	}
	a.scheduler = application.NewSyncScheduler(a.queue, buildingStore, orderStore, application.SchedulerConfig{
		MaturationOffset: cfg.MaturationOffset,
		CronSpec:         cfg.CronSpec,
		Location:         loc,
		Retry:            retry,
	}, logger)

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("error closing redis client", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
