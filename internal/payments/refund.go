package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferramas/ferramas-backend/internal/ledger"
	"github.com/ferramas/ferramas-backend/pkg/enums"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"gorm.io/gorm"
)

// Refund returns the money for an intent that was paid but could not be fulfilled.
func (s *service) Refund(ctx context.Context, token string) (result *SettlementResult, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("refund", outcomeOf(err), time.Since(started)) }()

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

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ledger.WithTx(tx)

		intent, err := repo.LockIntentByToken(ctx, token)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return errIntentNotFound(token)
			}
			return err
		}
		if intent.State != enums.IntentStateSettledNeedsRefund {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("intent is %s; only %s intents can be refunded", intent.State, enums.IntentStateSettledNeedsRefund))
		}

		refund, err := s.gateway.Refund(ctx, token, intent.Amount)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable) {
				return err
			}
			return errGatewayUnavailable(err)
		}

		if err := repo.FinalizeIntent(ctx, token, enums.IntentStateSettledNeedsRefund, ledger.Finalization{
			State: enums.IntentStateRefunded,
		}); err != nil {
			return err
		}

		result = &SettlementResult{
			Token:             intent.Token,
			BuyOrder:          intent.BuyOrder,
			Amount:            intent.Amount,
			State:             enums.IntentStateRefunded,
			ResponseCode:      derefCode(intent.ResponseCode),
			AuthorizationCode: refund.AuthorizationCode,
			Reason:            reasonRefunded,
		}
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable) {
			s.logg.Error(ctx, "refund failed at gateway", err)
			return nil, err
		}
		return nil, settlementError(err)
	}

	s.logg.Info(ctx, "payment refunded")
	return result, nil
}

func derefCode(code *int) int {
	if code == nil {
		return 0
	}
	return *code
}
