package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferramas/ferramas-backend/api/routes"
	"github.com/ferramas/ferramas-backend/internal/alerts"
	"github.com/ferramas/ferramas-backend/internal/ledger"
	"github.com/ferramas/ferramas-backend/internal/payments"
	"github.com/ferramas/ferramas-backend/internal/payments/guard"
	"github.com/ferramas/ferramas-backend/internal/purchases"
	"github.com/ferramas/ferramas-backend/pkg/catalog"
	"github.com/ferramas/ferramas-backend/pkg/config"
	"github.com/ferramas/ferramas-backend/pkg/db"
	"github.com/ferramas/ferramas-backend/pkg/instance"
	"github.com/ferramas/ferramas-backend/pkg/logger"
	"github.com/ferramas/ferramas-backend/pkg/metrics"
	"github.com/ferramas/ferramas-backend/pkg/migrate"
	"github.com/ferramas/ferramas-backend/pkg/rates"
	"github.com/ferramas/ferramas-backend/pkg/redis"
	"github.com/ferramas/ferramas-backend/pkg/webpay"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
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
	} else {
		logg.Warn(context.Background(), "redis disabled; confirm guard is process-local")
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

	broker := alerts.NewBroker(cfg.Alerts.SubscriberBuffer, logg)
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Ledger:    ledgerRepo,
		Tx:        dbClient,
		Gateway:   gateway,
		Guard:     confirmGuard,
		Notifier:  broker,
		Metrics:   metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
		Logger:    logg,
		ReturnURL: cfg.Webpay.ReturnURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	var rateProvider purchases.RateProvider
	if cfg.FeatureFlags.QuoteUSD {
		rateProvider = rates.NewClient(cfg.Rates)
	}
	purchasesService, err := purchases.NewService(purchases.ServiceParams{
		Ledger:   ledgerRepo,
		Tx:       dbClient,
		Rates:    rateProvider,
		Notifier: broker,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create purchases service", err)
		os.Exit(1)
	}

	deps := routes.Dependencies{
		DB:        dbClient,
		Redis:     redisClient,
		Payments:  paymentsService,
		Purchases: purchasesService,
		Alerts:    broker,
		Gatherer:  prometheus.DefaultGatherer,
	}
	if cfg.Catalog.Address != "" {
		prober, err := catalog.NewProber(cfg.Catalog)
		if err != nil {
			logg.Error(context.Background(), "failed to create catalog prober", err)
			os.Exit(1)
		}
		defer func() {
			if err := prober.Close(); err != nil {
				logg.Error(context.Background(), "error closing catalog connection", err)
			}
		}()
		deps.Catalog = prober
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
