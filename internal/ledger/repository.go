package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ferramas/ferramas-backend/internal/repo"
	"github.com/ferramas/ferramas-backend/pkg/db/models"
	"github.com/ferramas/ferramas-backend/pkg/enums"
	"github.com/ferramas/ferramas-backend/pkg/pagination"
)

var (
	// ErrNotFound is returned when an intent or stock row does not exist.
	ErrNotFound = errors.New("ledger record not found")
	// ErrInsufficientStock is returned when a guarded decrement matches no row.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrIntentSettled is returned when a buy order is re-initiated after settlement.
	ErrIntentSettled = errors.New("intent already settled")
	// ErrStaleState is returned when a finalize finds the intent in an unexpected state.
	ErrStaleState = errors.New("intent state changed concurrently")
)

// Finalization describes the terminal fields written to an intent.
type Finalization struct {
	State             enums.IntentState
	AuthorizationCode *string
	ResponseCode      *int
	FailureReason     *string
	SettledAt         time.Time
}

// StockLabels names a stock row for human-facing alerts.
type StockLabels struct {
	Product string
	Branch  string
}

// Repository is the transactional contract consumed by settlement.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockIntentByToken(ctx context.Context, token string) (*models.PaymentIntent, error)
	FindIntentByToken(ctx context.Context, token string) (*models.PaymentIntent, error)
	UpsertIntent(ctx context.Context, intent *models.PaymentIntent) error
	FinalizeIntent(ctx context.Context, token string, from enums.IntentState, fin Finalization) error
	LockStock(ctx context.Context, productID, branchID int64) (*models.StockLevel, error)
	FindStock(ctx context.Context, productID, branchID int64) (*models.StockLevel, error)
	DecrementStock(ctx context.Context, productID, branchID int64, quantity int) (int, error)
	StockLabels(ctx context.Context, productID, branchID int64) (StockLabels, error)
	ListIntentsByState(ctx context.Context, state enums.IntentState, params ListParams) ([]models.PaymentIntent, *pagination.Cursor, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.PaymentIntent, error)
}

// ListParams pages through intents oldest first.
type ListParams struct {
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) LockIntentByToken(ctx context.Context, token string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.ForUpdate(ctx).
		Where("token = ?", token).
		First(&intent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

func (r *repository) FindIntentByToken(ctx context.Context, token string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.DB(ctx).Where("token = ?", token).First(&intent).Error; err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// UpsertIntent inserts a pending intent or refreshes the pending row with the same buy order.
func (r *repository) UpsertIntent(ctx context.Context, intent *models.PaymentIntent) error {
	if intent == nil {
		return fmt.Errorf("intent required")
	}
	intent.State = enums.IntentStatePending
	result := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "buy_order"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"token", "session_id", "amount", "product_id", "branch_id", "quantity", "state", "updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: "payment_intents", Name: "state"}, Value: enums.IntentStatePending},
			}},
		}).
		Create(intent)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIntentSettled
	}
	return nil
}

// FinalizeIntent moves an intent out of from; the state guard makes a second writer fail with ErrStaleState.
func (r *repository) FinalizeIntent(ctx context.Context, token string, from enums.IntentState, fin Finalization) error {
	if !from.CanTransitionTo(fin.State) {
		return fmt.Errorf("transition %s -> %s not allowed", from, fin.State)
	}
	updates := map[string]any{
		"state":      fin.State,
		"updated_at": time.Now().UTC(),
	}
	if from == enums.IntentStatePending {
		settledAt := fin.SettledAt
		if settledAt.IsZero() {
			settledAt = time.Now().UTC()
		}
		updates["settled_at"] = settledAt
	}
	if fin.AuthorizationCode != nil {
		updates["authorization_code"] = *fin.AuthorizationCode
	}
	if fin.ResponseCode != nil {
		updates["response_code"] = *fin.ResponseCode
	}
	if fin.FailureReason != nil {
		updates["failure_reason"] = *fin.FailureReason
	}

	result := r.DB(ctx).
		Model(&models.PaymentIntent{}).
		Where("token = ? AND state = ?", token, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return ErrStaleState
	}
	return nil
}

func (r *repository) LockStock(ctx context.Context, productID, branchID int64) (*models.StockLevel, error) {
	var stock models.StockLevel
	err := r.ForUpdate(ctx).
		Where("product_id = ? AND branch_id = ?", productID, branchID).
		First(&stock).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &stock, nil
}

func (r *repository) FindStock(ctx context.Context, productID, branchID int64) (*models.StockLevel, error) {
	var stock models.StockLevel
	err := r.DB(ctx).
		Where("product_id = ? AND branch_id = ?", productID, branchID).
		First(&stock).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &stock, nil
}

// DecrementStock subtracts quantity only while enough stock remains and returns the new quantity.
func (r *repository) DecrementStock(ctx context.Context, productID, branchID int64, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive")
	}
	result := r.DB(ctx).
		Model(&models.StockLevel{}).
		Where("product_id = ? AND branch_id = ? AND quantity >= ?", productID, branchID, quantity).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity - ?", quantity),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected != 1 {
		return 0, ErrInsufficientStock
	}

	var remaining int
	if err := r.DB(ctx).
		Model(&models.StockLevel{}).
		Select("quantity").
		Where("product_id = ? AND branch_id = ?", productID, branchID).
		Scan(&remaining).Error; err != nil {
		return 0, err
	}
	return remaining, nil
}

func (r *repository) StockLabels(ctx context.Context, productID, branchID int64) (StockLabels, error) {
	var row struct {
		Product *string
		Branch  *string
	}
	err := r.DB(ctx).
		Table("branch_stock AS s").
		Select("p.name AS product, b.name AS branch").
		Joins("LEFT JOIN products p ON p.id = s.product_id").
		Joins("LEFT JOIN branches b ON b.id = s.branch_id").
		Where("s.product_id = ? AND s.branch_id = ?", productID, branchID).
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return StockLabels{}, err
	}

	labels := StockLabels{
		Product: fmt.Sprintf("producto %d", productID),
		Branch:  fmt.Sprintf("sucursal %d", branchID),
	}
	if row.Product != nil && *row.Product != "" {
		labels.Product = *row.Product
	}
	if row.Branch != nil && *row.Branch != "" {
		labels.Branch = *row.Branch
	}
	return labels, nil
}

func (r *repository) ListIntentsByState(ctx context.Context, state enums.IntentState, params ListParams) ([]models.PaymentIntent, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.DB(ctx).Model(&models.PaymentIntent{}).Where("state = ?", state)
	if params.Cursor != nil {
		query = query.Where("(created_at, id) > (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var intents []models.PaymentIntent
	if err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&intents).Error; err != nil {
		return nil, nil, err
	}

	if len(intents) > normalized {
		last := intents[normalized-1]
		intents = intents[:normalized]
		return intents, pagination.CursorAt(last.CreatedAt, last.ID), nil
	}
	return intents, nil, nil
}

// ListPendingBefore pages pending intents created before cutoff, oldest first, resuming after the cursor.
func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.PaymentIntent, error) {
	query := r.DB(ctx).Where("state = ? AND created_at < ?", enums.IntentStatePending, cutoff)
	if after != nil {
		query = query.Where("(created_at, id) > (?, ?)", after.CreatedAt, after.ID)
	}

	var intents []models.PaymentIntent
	if err := query.
		Order("created_at ASC, id ASC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
