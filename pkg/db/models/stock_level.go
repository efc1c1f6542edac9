package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockLevel is the available quantity of one product at one branch.
type StockLevel struct {
	ProductID int64           `gorm:"column:product_id;primaryKey;autoIncrement:false"`
	BranchID  int64           `gorm:"column:branch_id;primaryKey;autoIncrement:false"`
	Quantity  int             `gorm:"column:quantity;not null;check:branch_stock_quantity_check,quantity >= 0"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (StockLevel) TableName() string { return "branch_stock" }
