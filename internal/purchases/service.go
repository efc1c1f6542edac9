package purchases

import (
	"context"
	"errors"
	"fmt"

	"github.com/ferramas/ferramas-backend/internal/ledger"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	currencyCLP = "CLP"
	currencyUSD = "USD"

	// EventLowStock matches the event name settlement publishes when a branch runs out.
	EventLowStock = "low_stock"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier receives low-stock alerts. Publish must not block.
type Notifier interface {
	Publish(event, message string)
}

// RateProvider converts between currencies.
type RateProvider interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// QuoteInput identifies the line being priced.
type QuoteInput struct {
	ProductID int64
	BranchID  int64
	Quantity  int
}

// Quote is a price for a line without touching stock.
type Quote struct {
	ProductID int64            `json:"product_id"`
	BranchID  int64            `json:"branch_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	TotalCLP  decimal.Decimal  `json:"total_clp"`
	TotalUSD  *decimal.Decimal `json:"total_usd,omitempty"`
	Available int              `json:"available"`
}

// Receipt is the outcome of a counter sale.
type Receipt struct {
	ProductID int64 `json:"product_id"`
	BranchID  int64 `json:"branch_id"`
	Quantity  int   `json:"quantity"`
	Remaining int   `json:"remaining"`
}

// Service prices purchases from branch stock and records counter sales.
type Service interface {
	Quote(ctx context.Context, input QuoteInput) (*Quote, error)
	Purchase(ctx context.Context, input QuoteInput) (*Receipt, error)
}

type ServiceParams struct {
	Ledger   ledger.Repository
	Tx       txRunner
	Rates    RateProvider
	Notifier Notifier
	Logger   *logger.Logger
}

type service struct {
	ledger   ledger.Repository
	tx       txRunner
	rates    RateProvider
	notifier Notifier
	logg     *logger.Logger
}

// NewService builds the purchases service. A nil rate provider disables the USD total.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		ledger:   params.Ledger,
		tx:       params.Tx,
		rates:    params.Rates,
		notifier: params.Notifier,
		logg:     params.Logger,
	}, nil
}

func validateLine(input QuoteInput) error {
	if input.ProductID <= 0 || input.BranchID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "product and branch are required")
	}
	if input.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

func (s *service) Quote(ctx context.Context, input QuoteInput) (*Quote, error) {
	if err := validateLine(input); err != nil {
		return nil, err
	}

	stock, err := s.ledger.FindStock(ctx, input.ProductID, input.BranchID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not stocked at that branch")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load stock")
	}
	if stock.Quantity < input.Quantity {
		return nil, insufficientStock(stock.Quantity, input.Quantity)
	}

	total := stock.Price.Mul(decimal.NewFromInt(int64(input.Quantity)))
	quote := &Quote{
		ProductID: input.ProductID,
		BranchID:  input.BranchID,
		Quantity:  input.Quantity,
		UnitPrice: stock.Price,
		TotalCLP:  total,
		Available: stock.Quantity,
	}

	if s.rates != nil {
		rate, err := s.rates.Rate(ctx, currencyCLP, currencyUSD)
		if err != nil {
			// the CLP total is still useful on its own
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "usd conversion unavailable")
			return quote, nil
		}
		usd := total.Mul(rate).Round(2)
		quote.TotalUSD = &usd
	}
	return quote, nil
}

// Purchase takes stock for a sale settled outside the gateway. Reaching zero publishes a low-stock alert after commit.
func (s *service) Purchase(ctx context.Context, input QuoteInput) (*Receipt, error) {
	if err := validateLine(input); err != nil {
		return nil, err
	}

	var (
		remaining int
		lowStock  string
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ledger.WithTx(tx)
		stock, err := repo.LockStock(ctx, input.ProductID, input.BranchID)
		if err != nil {
			return err
		}
		if stock.Quantity < input.Quantity {
			return insufficientStock(stock.Quantity, input.Quantity)
		}

		remaining, err = repo.DecrementStock(ctx, input.ProductID, input.BranchID, input.Quantity)
		if err != nil {
			return err
		}
		if remaining == 0 {
			labels, err := repo.StockLabels(ctx, input.ProductID, input.BranchID)
			if err != nil {
				return err
			}
			lowStock = fmt.Sprintf("Stock bajo de %s en %s", labels.Product, labels.Branch)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not stocked at that branch")
		case errors.Is(err, ledger.ErrInsufficientStock):
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock")
		case pkgerrors.As(err) != nil:
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record purchase")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"product_id": input.ProductID,
		"branch_id":  input.BranchID,
		"quantity":   input.Quantity,
		"remaining":  remaining,
	})
	s.logg.Info(logCtx, "counter purchase recorded")
	if lowStock != "" {
		s.notifier.Publish(EventLowStock, lowStock)
	}

	return &Receipt{
		ProductID: input.ProductID,
		BranchID:  input.BranchID,
		Quantity:  input.Quantity,
		Remaining: remaining,
	}, nil
}

func insufficientStock(available, requested int) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").
		WithDetails(map[string]any{"available": available, "requested": requested})
}
