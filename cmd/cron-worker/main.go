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

	"github.com/ferramas/ferramas-backend/internal/alerts"
	"github.com/ferramas/ferramas-backend/internal/cron"
	"github.com/ferramas/ferramas-backend/internal/ledger"
	"github.com/ferramas/ferramas-backend/internal/payments"
	"github.com/ferramas/ferramas-backend/internal/payments/guard"
	"github.com/ferramas/ferramas-backend/pkg/config"
	"github.com/ferramas/ferramas-backend/pkg/db"
	"github.com/ferramas/ferramas-backend/pkg/instance"
	"github.com/ferramas/ferramas-backend/pkg/logger"
	"github.com/ferramas/ferramas-backend/pkg/metrics"
	"github.com/ferramas/ferramas-backend/pkg/migrate"
	"github.com/ferramas/ferramas-backend/pkg/redis"
	"github.com/ferramas/ferramas-backend/pkg/webpay"
)

const lockName = "cron-worker:%s"

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

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
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

	var redisClient *redis.Client
	var lock cron.Lock = &cron.LocalLock{}
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), 0)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
		lock = redisLock
	} else {
		logg.Warn(context.Background(), "redis disabled; run a single cron worker")
	}

	gateway, err := webpay.NewClient(cfg.Webpay)
	if err != nil {
		logg.Error(context.Background(), "failed to create webpay client", err)
		os.Exit(1)
	}
	confirmGuard, err := guard.Build(redisClient, cfg.Redis.GuardTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create confirm guard", err)
		os.Exit(1)
	}

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	paymentsService, err := payments.NewService(payments.ServiceParams{
		Ledger:  ledgerRepo,
		Tx:      dbClient,
		Gateway: gateway,
		Guard:   confirmGuard,
		// the worker has no SSE listeners; alerts are logged by the broker
		Notifier:  alerts.NewBroker(cfg.Alerts.SubscriberBuffer, logg),
		Metrics:   metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
		Logger:    logg,
		ReturnURL: cfg.Webpay.ReturnURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger:       logg,
		Intents:      ledgerRepo,
		Payments:     paymentsService,
		PendingAfter: cfg.Reconcile.PendingAfter,
		BatchSize:    cfg.Reconcile.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	if err := registry.Register(reconcileJob); err != nil {
		logg.Error(context.Background(), "failed to register reconcile job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Reconcile.Interval,
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
		"instance":    instance.ID(),
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
	return fmt.Sprintf(lockName, env)
}
