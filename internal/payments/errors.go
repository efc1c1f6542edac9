package payments

import (
	"fmt"

	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
)

const (
	reasonAbortedByClient   = "aborted by client"
	reasonRejectedByIssuer  = "rejected by issuer"
	reasonReversedAtGateway = "reversed at gateway"
	reasonStockMissing      = "stock record missing after payment"
	reasonInsufficientStock = "insufficient stock after payment"
	reasonRefunded          = "refunded"
)

func errGatewayUnavailable(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "payment gateway unavailable")
}

func errPersistence(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "failed to record payment intent")
}

func errAlreadyInProgress(token string) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyInProgress, fmt.Sprintf("confirmation for token %s already in progress", token))
}

func errIntentNotFound(token string) error {
	return pkgerrors.New(pkgerrors.CodeIntentNotFound, fmt.Sprintf("no payment intent for token %s", token))
}

func errConfirmationConflict(token string) error {
	return pkgerrors.New(pkgerrors.CodeConfirmationConflict, "payment is being confirmed elsewhere; poll its status instead of paying again").
		WithDetails(map[string]any{"token": token, "retry": "poll"})
}

func errInternalSettlement(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternalSettlement, err, "settlement failed")
}

// postPaymentError marks a captured payment that could not be fulfilled.
func postPaymentError(code pkgerrors.Code, reason string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["requires_reconciliation"] = true
	return pkgerrors.New(code, reason).WithDetails(details)
}

// passThrough lists codes produced by the settlement protocol itself; anything else becomes an internal settlement error.
var passThrough = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:               true,
	pkgerrors.CodeIntentNotFound:           true,
	pkgerrors.CodeConfirmationConflict:     true,
	pkgerrors.CodeStockRecordMissing:       true,
	pkgerrors.CodeInsufficientStockPostPay: true,
	pkgerrors.CodeStateConflict:            true,
}

func settlementError(err error) error {
	if typed := pkgerrors.As(err); typed != nil && passThrough[typed.Code()] {
		return err
	}
	return errInternalSettlement(err)
}
