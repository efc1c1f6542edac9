package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/ferramas/ferramas-backend/api/responses"
	"github.com/ferramas/ferramas-backend/pkg/config"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
)

const (
	envHeader          = "X-FerraMas-Env"
	readyCheckTimeout  = 3 * time.Second
	dependencyUp       = "ok"
	dependencyDisabled = "disabled"
)

// ReadinessCheck names one dependency probed by /health/ready. A nil Check reports it as disabled.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		status := make(map[string]string, len(checks))
		var failed []string
		for _, check := range checks {
			if check.Check == nil {
				status[check.Name] = dependencyDisabled
				continue
			}
			if err := check.Check(ctx); err != nil {
				status[check.Name] = err.Error()
				failed = append(failed, check.Name)
				continue
			}
			status[check.Name] = dependencyUp
		}

		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(map[string]any{
				"failed":       failed,
				"dependencies": status,
			}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": status})
	}
}
