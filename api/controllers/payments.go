package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ferramas/ferramas-backend/api/responses"
	"github.com/ferramas/ferramas-backend/api/validators"
	"github.com/ferramas/ferramas-backend/internal/payments"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
)

type initiatePaymentRequest struct {
	BuyOrder   string `json:"buyOrder" validate:"required,max=26,printascii"`
	SessionID  string `json:"sessionId" validate:"required,max=61,printascii"`
	Amount     int64  `json:"amount" validate:"gt=0"`
	ProductRef int64  `json:"productRef" validate:"gt=0"`
	BranchRef  int64  `json:"branchRef" validate:"gt=0"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
}

// confirmPaymentRequest accepts the token under either name Webpay hands back to the storefront.
type confirmPaymentRequest struct {
	Token   string `json:"token" validate:"max=64"`
	TokenWS string `json:"token_ws" validate:"max=64"`
}

func (r confirmPaymentRequest) token() string {
	if token := strings.TrimSpace(r.Token); token != "" {
		return token
	}
	return strings.TrimSpace(r.TokenWS)
}

// PaymentInitiate opens a Webpay transaction and records the pending intent.
func PaymentInitiate(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var body initiatePaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Initiate(r.Context(), payments.InitiateInput{
			BuyOrder:  validators.SanitizeString(body.BuyOrder, 26),
			SessionID: validators.SanitizeString(body.SessionID, 61),
			Amount:    body.Amount,
			ProductID: body.ProductRef,
			BranchID:  body.BranchRef,
			Quantity:  body.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentConfirm settles the intent behind a Webpay token. Rejections answer 400 with the settled outcome.
func PaymentConfirm(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var body confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token := body.token()
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "token is required"))
			return
		}

		result, err := svc.Confirm(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Approved {
			message := "payment rejected"
			if result.Reason != "" {
				message = "payment rejected: " + result.Reason
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodePaymentRejected, message).WithDetails(result))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentStatus returns the stored intent for polling clients.
func PaymentStatus(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
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

		view, err := svc.Status(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
