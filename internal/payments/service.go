package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferramas/ferramas-backend/internal/ledger"
	"github.com/ferramas/ferramas-backend/internal/payments/guard"
	"github.com/ferramas/ferramas-backend/pkg/db/models"
	"github.com/ferramas/ferramas-backend/pkg/enums"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
	"github.com/ferramas/ferramas-backend/pkg/metrics"
	"github.com/ferramas/ferramas-backend/pkg/pagination"
	"github.com/ferramas/ferramas-backend/pkg/webpay"
	"gorm.io/gorm"
)

const (
	maxBuyOrderLength  = 26
	maxSessionIDLength = 61

	// EventLowStock is the notifier event published when a sale empties a branch.
	EventLowStock = "low_stock"
)

// Gateway is the subset of the Webpay client the orchestrator drives.
type Gateway interface {
	Create(ctx context.Context, req webpay.CreateRequest) (*webpay.CreateResponse, error)
	Commit(ctx context.Context, token string) (*webpay.Transaction, error)
	Status(ctx context.Context, token string) (*webpay.Transaction, error)
	Refund(ctx context.Context, token string, amount int64) (*webpay.RefundResponse, error)
}

// Notifier receives low-stock alerts. Publish must not block.
type Notifier interface {
	Publish(event, message string)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service settles Webpay payments against branch stock.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	Confirm(ctx context.Context, token string) (*SettlementResult, error)
	Reconcile(ctx context.Context, token string) (*SettlementResult, error)
	Status(ctx context.Context, token string) (*IntentView, error)
	Refund(ctx context.Context, token string) (*SettlementResult, error)
	ListNeedingRefund(ctx context.Context, params pagination.Params) (*IntentPage, error)
}

// ServiceParams wires the orchestrator's collaborators.
type ServiceParams struct {
	Ledger    ledger.Repository
	Tx        txRunner
	Gateway   Gateway
	Guard     guard.Guard
	Notifier  Notifier
	Metrics   *metrics.SettlementMetrics
	Logger    *logger.Logger
	ReturnURL string
	Now       func() time.Time
}

type service struct {
	ledger    ledger.Repository
	tx        txRunner
	gateway   Gateway
	guard     guard.Guard
	notifier  Notifier
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
	returnURL string
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("confirm guard required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(params.ReturnURL) == "" {
		return nil, fmt.Errorf("return url required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		ledger:    params.Ledger,
		tx:        params.Tx,
		gateway:   params.Gateway,
		guard:     params.Guard,
		notifier:  params.Notifier,
		metrics:   params.Metrics,
		logg:      params.Logger,
		returnURL: params.ReturnURL,
		now:       now,
	}, nil
}

func (s *service) Initiate(ctx context.Context, input InitiateInput) (result *InitiateResult, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("initiate", outcomeOf(err), time.Since(started)) }()

	if err := validateInitiate(input); err != nil {
		return nil, err
	}

	ctx = s.logg.WithBuyOrder(ctx, input.BuyOrder)
	created, err := s.gateway.Create(ctx, webpay.CreateRequest{
		BuyOrder:  input.BuyOrder,
		SessionID: input.SessionID,
		Amount:    input.Amount,
		ReturnURL: s.returnURL,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) || pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable) {
			return nil, err
		}
		return nil, errGatewayUnavailable(err)
	}

	intent := &models.PaymentIntent{
		BuyOrder:  input.BuyOrder,
		SessionID: input.SessionID,
		Amount:    input.Amount,
		Token:     created.Token,
		ProductID: input.ProductID,
		BranchID:  input.BranchID,
		Quantity:  input.Quantity,
		State:     enums.IntentStatePending,
	}
	if err := s.ledger.UpsertIntent(ctx, intent); err != nil {
		if errors.Is(err, ledger.ErrIntentSettled) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("buy order %s is already settled", input.BuyOrder))
		}
		return nil, errPersistence(err)
	}

	s.logg.Info(s.logg.WithToken(ctx, created.Token), "payment intent initiated")
	return &InitiateResult{Token: created.Token, URL: created.URL}, nil
}

func (s *service) Status(ctx context.Context, token string) (*IntentView, error) {
	if strings.TrimSpace(token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}
	intent, err := s.ledger.FindIntentByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errIntentNotFound(token)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	view := viewFromModel(intent)
	return &view, nil
}

func (s *service) ListNeedingRefund(ctx context.Context, params pagination.Params) (*IntentPage, error) {
	var cursor *pagination.Cursor
	if strings.TrimSpace(params.Cursor) != "" {
		parsed, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		cursor = parsed
	}

	intents, next, err := s.ledger.ListIntentsByState(ctx, enums.IntentStateSettledNeedsRefund, ledger.ListParams{
		Limit:  params.Limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list intents needing refund")
	}

	page := &IntentPage{Intents: make([]IntentView, 0, len(intents))}
	for i := range intents {
		page.Intents = append(page.Intents, viewFromModel(&intents[i]))
	}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

func validateInitiate(input InitiateInput) error {
	switch {
	case strings.TrimSpace(input.BuyOrder) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "buy order is required")
	case len(input.BuyOrder) > maxBuyOrderLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("buy order must be at most %d characters", maxBuyOrderLength))
	case strings.TrimSpace(input.SessionID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	case len(input.SessionID) > maxSessionIDLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("session id must be at most %d characters", maxSessionIDLength))
	case input.Amount <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	case input.Quantity <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	case input.ProductID <= 0 || input.BranchID <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "product and branch are required")
	}
	return nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}
