package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ferramas/ferramas-backend/api/controllers"
	"github.com/ferramas/ferramas-backend/api/middleware"
	"github.com/ferramas/ferramas-backend/internal/alerts"
	"github.com/ferramas/ferramas-backend/internal/payments"
	"github.com/ferramas/ferramas-backend/internal/purchases"
	"github.com/ferramas/ferramas-backend/pkg/config"
	"github.com/ferramas/ferramas-backend/pkg/db"
	"github.com/ferramas/ferramas-backend/pkg/enums"
	"github.com/ferramas/ferramas-backend/pkg/logger"
	"github.com/ferramas/ferramas-backend/pkg/redis"
)

type catalogChecker interface {
	Check(ctx context.Context) error
}

// Dependencies are the collaborators the HTTP surface needs. Redis and Catalog are optional.
type Dependencies struct {
	DB        db.Pinger
	Redis     *redis.Client
	Catalog   catalogChecker
	Payments  payments.Service
	Purchases purchases.Service
	Alerts    *alerts.Broker
	Gatherer  prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	paymentsPolicy := middleware.NewRateLimitPolicy(
		"payments",
		cfg.RateLimit.Window,
		cfg.RateLimit.IPLimit,
		cfg.RateLimit.TokenLimit,
	)
	idempotency := passthrough
	rateLimit := passthrough
	if deps.Redis != nil {
		idempotency = middleware.Idempotency(deps.Redis, logg)
		rateLimit = middleware.RateLimit(paymentsPolicy, deps.Redis, logg)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessChecks(deps)...))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/ping", controllers.PublicPing())
	r.Get("/events", controllers.Events(deps.Alerts, cfg.Alerts.HeartbeatInterval, logg))

	r.Route("/payments", func(r chi.Router) {
		r.Use(idempotency)
		r.With(rateLimit).Post("/initiate", controllers.PaymentInitiate(deps.Payments, logg))
		r.With(rateLimit).Post("/confirm", controllers.PaymentConfirm(deps.Payments, logg))
		r.Get("/{token}", controllers.PaymentStatus(deps.Payments, logg))
	})

	r.Route("/purchases", func(r chi.Router) {
		r.With(idempotency).Post("/", controllers.PurchaseCreate(deps.Purchases, logg))
		r.Post("/quote", controllers.PurchaseQuote(deps.Purchases, logg))
	})

	if cfg.JWT.Enabled() {
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(logg, enums.StaffRoleAdmin))
			r.Use(idempotency)
			r.Get("/ping", controllers.AdminPing())
			r.Route("/payments", func(r chi.Router) {
				r.Get("/needs-refund", controllers.AdminNeedsRefund(deps.Payments, logg))
				r.Post("/{token}/refund", controllers.AdminRefund(deps.Payments, logg))
			})
		})
	} else if logg != nil {
		logg.Warn(context.Background(), "admin routes disabled: jwt secret not configured")
	}

	return r
}

func passthrough(next http.Handler) http.Handler {
	return next
}

func readinessChecks(deps Dependencies) []controllers.ReadinessCheck {
	checks := []controllers.ReadinessCheck{{Name: "db"}, {Name: "redis"}, {Name: "catalog"}}
	if deps.DB != nil {
		checks[0].Check = deps.DB.Ping
	}
	if deps.Redis != nil {
		checks[1].Check = deps.Redis.Ping
	}
	if deps.Catalog != nil {
		checks[2].Check = deps.Catalog.Check
	}
	return checks
}
