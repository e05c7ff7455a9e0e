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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/storefront/storefront-backend/api/routes"
	"github.com/storefront/storefront-backend/internal/catalog"
	"github.com/storefront/storefront-backend/internal/cron"
	"github.com/storefront/storefront-backend/internal/inventory"
	"github.com/storefront/storefront-backend/internal/orders"
	"github.com/storefront/storefront-backend/internal/payments/gateway"
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

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	ordersRepo := orders.NewRepository(dbClient.DB())

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:       ordersRepo,
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
		return err
	}

	guard, err := gateway.NewIdempotencyGuard(redisClient, cfg.Eventing.GatewayIdempotencyTTL, "gateway")
	if err != nil {
		return err
	}
	gatewayService, err := gateway.NewService(gateway.ServiceParams{
		Config:   cfg.Gateway,
		Orders:   ordersRepo,
		Payments: ordersService,
		Repo:     gateway.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Guard:    guard,
		Metrics:  orderMetrics,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	throttle := cron.NewJobRunThrottle(dbClient.DB())
	if err := throttle.Seed(bootCtx, cron.OrderExpirationJobName); err != nil {
		return fmt.Errorf("seed sweep throttle: %w", err)
	}
	expirationJob, err := cron.NewOrderExpirationJob(cron.OrderExpirationJobParams{
		Logger:    logg,
		Orders:    ordersService,
		Throttle:  throttle,
		Interval:  cfg.Sweeper.Interval,
		UnpaidTTL: cfg.Sweeper.UnpaidTTL,
	})
	if err != nil {
		return err
	}
	trigger := cron.NewTrigger(expirationJob, logg, cfg.Sweeper.RunTimeout, cfg.Sweeper.Interval)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(bootCtx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Idempotency: redisClient,
			Orders:      ordersService,
			Gateway:     gatewayService,
			Sweep:       trigger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigCtx.Done():
	}

	logg.Info(ctx, "api server shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(bootCtx, shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
