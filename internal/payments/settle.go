package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferramas/ferramas-backend/internal/ledger"
	"github.com/ferramas/ferramas-backend/pkg/db/models"
	"github.com/ferramas/ferramas-backend/pkg/enums"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/webpay"
	"gorm.io/gorm"
)

// verdictFunc asks the gateway for the final word on a transaction.
type verdictFunc func(ctx context.Context, token string) (*webpay.Transaction, error)

type settleOp struct {
	name    string
	verdict verdictFunc
}

// outcome is what a settlement transaction decided; alerts and post-payment errors
// are only acted on once the transaction has committed.
type outcome struct {
	result      *SettlementResult
	lowStock    string
	postPayment error
	replayed    bool
}

func (s *service) Confirm(ctx context.Context, token string) (*SettlementResult, error) {
	return s.settle(ctx, token, settleOp{name: "confirm", verdict: s.gateway.Commit})
}

// Reconcile settles a pending intent from the gateway's status endpoint instead of committing it.
func (s *service) Reconcile(ctx context.Context, token string) (*SettlementResult, error) {
	return s.settle(ctx, token, settleOp{name: "reconcile", verdict: s.statusVerdict})
}

func (s *service) statusVerdict(ctx context.Context, token string) (*webpay.Transaction, error) {
	txn, err := s.gateway.Status(ctx, token)
	if err != nil {
		return nil, err
	}
	if txn.Pending() {
		return nil, errConfirmationConflict(token)
	}
	return txn, nil
}

func (s *service) settle(ctx context.Context, token string, op settleOp) (result *SettlementResult, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe(op.name, outcomeOf(err), time.Since(started)) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}
	ctx = s.logg.WithToken(ctx, token)

	if !s.guard.TryAcquire(ctx, token) {
		s.metrics.IncGuardRejection()
		return nil, errAlreadyInProgress(token)
	}
	defer s.guard.Release(context.WithoutCancel(ctx), token)

	var out outcome
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ledger.WithTx(tx)

		intent, err := repo.LockIntentByToken(ctx, token)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return errIntentNotFound(token)
			}
			return err
		}
		if intent.State.IsTerminal() {
			out.result, out.postPayment = storedOutcome(intent)
			out.replayed = true
			return nil
		}

		txn, err := op.verdict(ctx, token)
		if err != nil {
			return err
		}
		if txn.Amount != 0 && txn.Amount != intent.Amount {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"intent_amount":  intent.Amount,
				"gateway_amount": txn.Amount,
			}), "gateway amount differs from intent amount")
		}

		if !txn.Approved() || reversed(txn) {
			out.result, err = s.reject(ctx, repo, intent, txn)
			return err
		}
		out, err = s.fulfil(ctx, repo, intent, txn)
		return err
	})

	if txErr != nil {
		if errors.Is(txErr, webpay.ErrTransactionLocked) {
			return s.afterLockedCommit(ctx, token)
		}
		s.logg.Error(ctx, "settlement failed", txErr)
		return nil, settlementError(txErr)
	}

	if out.postPayment != nil {
		if !out.replayed {
			s.logg.Error(ctx, "payment captured but could not be fulfilled", out.postPayment)
		}
		return nil, out.postPayment
	}
	if out.lowStock != "" {
		s.notifier.Publish(EventLowStock, out.lowStock)
		s.metrics.IncLowStockAlert()
	}
	if !out.replayed {
		s.logg.Info(s.logg.WithField(ctx, "state", out.result.State.String()), "payment settled")
	}
	return out.result, nil
}

// fulfil takes stock for an approved payment. A stock failure moves the intent to
// settled_needs_refund and reports the typed error once the transaction commits.
func (s *service) fulfil(ctx context.Context, repo ledger.Repository, intent *models.PaymentIntent, txn *webpay.Transaction) (outcome, error) {
	stock, err := repo.LockStock(ctx, intent.ProductID, intent.BranchID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return outcome{}, err
	}

	details := map[string]any{
		"buy_order":  intent.BuyOrder,
		"product_id": intent.ProductID,
		"branch_id":  intent.BranchID,
		"requested":  intent.Quantity,
	}
	var (
		code   pkgerrors.Code
		reason string
	)
	switch {
	case stock == nil:
		code, reason = pkgerrors.CodeStockRecordMissing, reasonStockMissing
	case stock.Quantity < intent.Quantity:
		code, reason = pkgerrors.CodeInsufficientStockPostPay, reasonInsufficientStock
		details["available"] = stock.Quantity
	}
	if code != "" {
		if err := s.finalize(ctx, repo, intent, txn, enums.IntentStateSettledNeedsRefund, reason); err != nil {
			return outcome{}, err
		}
		return outcome{postPayment: postPaymentError(code, reason, details)}, nil
	}

	remaining, err := repo.DecrementStock(ctx, intent.ProductID, intent.BranchID, intent.Quantity)
	if err != nil {
		return outcome{}, err
	}

	var out outcome
	if remaining == 0 {
		labels, err := repo.StockLabels(ctx, intent.ProductID, intent.BranchID)
		if err != nil {
			return outcome{}, err
		}
		out.lowStock = fmt.Sprintf("Stock bajo de %s en %s", labels.Product, labels.Branch)
	}

	if err := s.finalize(ctx, repo, intent, txn, enums.IntentStateSettledSuccess, ""); err != nil {
		return outcome{}, err
	}
	out.result = &SettlementResult{
		Token:             intent.Token,
		BuyOrder:          intent.BuyOrder,
		Amount:            intent.Amount,
		State:             enums.IntentStateSettledSuccess,
		Approved:          true,
		ResponseCode:      webpay.ResponseCodeApproved,
		AuthorizationCode: txn.AuthorizationCode,
	}
	return out, nil
}

func (s *service) reject(ctx context.Context, repo ledger.Repository, intent *models.PaymentIntent, txn *webpay.Transaction) (*SettlementResult, error) {
	reason := rejectionReason(txn)
	if err := s.finalize(ctx, repo, intent, txn, enums.IntentStateSettledRejected, reason); err != nil {
		return nil, err
	}
	return &SettlementResult{
		Token:        intent.Token,
		BuyOrder:     intent.BuyOrder,
		Amount:       intent.Amount,
		State:        enums.IntentStateSettledRejected,
		ResponseCode: txn.Code(),
		Reason:       reason,
	}, nil
}

func (s *service) finalize(ctx context.Context, repo ledger.Repository, intent *models.PaymentIntent, txn *webpay.Transaction, state enums.IntentState, reason string) error {
	code := txn.Code()
	fin := ledger.Finalization{
		State:        state,
		ResponseCode: &code,
		SettledAt:    s.now(),
	}
	if txn.AuthorizationCode != "" {
		auth := txn.AuthorizationCode
		fin.AuthorizationCode = &auth
	}
	if reason != "" {
		fin.FailureReason = &reason
	}
	return repo.FinalizeIntent(ctx, intent.Token, enums.IntentStatePending, fin)
}

// afterLockedCommit handles a gateway refusal because another process already holds the commit.
func (s *service) afterLockedCommit(ctx context.Context, token string) (*SettlementResult, error) {
	intent, err := s.ledger.FindIntentByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errIntentNotFound(token)
		}
		return nil, errInternalSettlement(err)
	}
	if !intent.State.IsTerminal() {
		s.logg.Warn(ctx, "gateway commit locked by another process")
		return nil, errConfirmationConflict(token)
	}
	result, postPayment := storedOutcome(intent)
	if postPayment != nil {
		return nil, postPayment
	}
	return result, nil
}

// storedOutcome rebuilds the answer for an intent that was already settled.
func storedOutcome(intent *models.PaymentIntent) (*SettlementResult, error) {
	result := &SettlementResult{
		Token:            intent.Token,
		BuyOrder:         intent.BuyOrder,
		Amount:           intent.Amount,
		State:            intent.State,
		ResponseCode:     webpay.ResponseCodeAborted,
		AlreadyProcessed: true,
	}
	if intent.ResponseCode != nil {
		result.ResponseCode = *intent.ResponseCode
	}
	if intent.AuthorizationCode != nil {
		result.AuthorizationCode = *intent.AuthorizationCode
	}
	if intent.FailureReason != nil {
		result.Reason = *intent.FailureReason
	}

	switch intent.State {
	case enums.IntentStateSettledSuccess:
		result.Approved = true
	case enums.IntentStateRefunded:
		result.Reason = reasonRefunded
	case enums.IntentStateSettledNeedsRefund:
		code := pkgerrors.CodeInsufficientStockPostPay
		if strings.HasPrefix(result.Reason, reasonStockMissing) {
			code = pkgerrors.CodeStockRecordMissing
		}
		return nil, postPaymentError(code, result.Reason, map[string]any{
			"buy_order":         intent.BuyOrder,
			"product_id":        intent.ProductID,
			"branch_id":         intent.BranchID,
			"requested":         intent.Quantity,
			"already_processed": true,
		})
	}
	return result, nil
}

func rejectionReason(txn *webpay.Transaction) string {
	if reversed(txn) {
		return reasonReversedAtGateway
	}
	if txn.Code() == webpay.ResponseCodeAborted {
		return reasonAbortedByClient
	}
	return reasonRejectedByIssuer
}

func reversed(txn *webpay.Transaction) bool {
	return txn.Status == webpay.StatusReversed || txn.Status == webpay.StatusNullified
}
