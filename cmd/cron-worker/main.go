package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/storefront/storefront-backend/internal/catalog"
	"github.com/storefront/storefront-backend/internal/cron"
	"github.com/storefront/storefront-backend/internal/inventory"
	"github.com/storefront/storefront-backend/internal/orders"
	"github.com/storefront/storefront-backend/internal/pricing"
	"github.com/storefront/storefront-backend/internal/vouchers"
	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/db"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/metrics"
	"github.com/storefront/storefront-backend/pkg/migrate"
	"github.com/storefront/storefront-backend/pkg/outbox"
	"github.com/storefront/storefront-backend/pkg/redis"
)

const lockKeyFormat = "cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(dbClient.DB()),
		Catalog:    catalog.NewRepository(dbClient.DB()),
		Vouchers:   vouchers.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Ledger:     inventory.NewLedger(orderMetrics),
		Calculator: pricing.NewCalculator(cfg.Shipping),
		Metrics:    orderMetrics,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	// The persisted throttle is shared with the API request trigger, so a
	// sweep claimed by either side is not repeated by the other.
	throttle := cron.NewJobRunThrottle(dbClient.DB())
	if err := throttle.Seed(context.Background(), cron.OrderExpirationJobName); err != nil {
		logg.Error(context.Background(), "failed to seed sweep throttle", err)
		os.Exit(1)
	}
	expirationJob, err := cron.NewOrderExpirationJob(cron.OrderExpirationJobParams{
		Logger:    logg,
		Orders:    ordersService,
		Throttle:  throttle,
		Interval:  cfg.Sweeper.Interval,
		UnpaidTTL: cfg.Sweeper.UnpaidTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiration job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expirationJob),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Sweeper.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
