package controllers

import (
	"net/http"

	"github.com/ferramas/ferramas-backend/api/responses"
	"github.com/ferramas/ferramas-backend/api/validators"
	"github.com/ferramas/ferramas-backend/internal/purchases"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
)

type quoteRequest struct {
	ProductRef int64 `json:"productRef" validate:"gt=0"`
	BranchRef  int64 `json:"branchRef" validate:"gt=0"`
	Quantity   int   `json:"quantity" validate:"gt=0"`
}

// PurchaseQuote prices a line from branch stock without reserving it.
func PurchaseQuote(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchases service unavailable"))
			return
		}

		var body quoteRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Quote(r.Context(), purchases.QuoteInput{
			ProductID: body.ProductRef,
			BranchID:  body.BranchRef,
			Quantity:  body.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// PurchaseCreate records a counter sale and takes its stock.
func PurchaseCreate(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchases service unavailable"))
			return
		}

		var body quoteRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipt, err := svc.Purchase(r.Context(), purchases.QuoteInput{
			ProductID: body.ProductRef,
			BranchID:  body.BranchRef,
			Quantity:  body.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, receipt)
	}
}
