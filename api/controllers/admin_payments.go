package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ferramas/ferramas-backend/api/middleware"
	"github.com/ferramas/ferramas-backend/api/responses"
	"github.com/ferramas/ferramas-backend/api/validators"
	"github.com/ferramas/ferramas-backend/internal/payments"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
)

// AdminNeedsRefund lists settled payments whose stock could not be taken.
func AdminNeedsRefund(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListNeedingRefund(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminRefund returns the money for an intent in the refund queue.
func AdminRefund(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		token := strings.TrimSpace(chi.URLParam(r, "token"))
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "token is required"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"staff_id": middleware.StaffIDFromContext(ctx),
				"token":    token,
			})
			ctx = logg.WithActorRole(ctx, string(middleware.RoleFromContext(ctx)))
			logg.Info(ctx, "admin refund requested")
		}

		result, err := svc.Refund(ctx, token)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
