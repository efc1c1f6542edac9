package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ferramas/ferramas-backend/pkg/enums"
)

// PaymentIntent records one attempted Webpay purchase of a product at a branch.
type PaymentIntent struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	BuyOrder          string            `gorm:"column:buy_order;not null;uniqueIndex:payment_intents_buy_order_key"`
	SessionID         string            `gorm:"column:session_id;not null"`
	Amount            int64             `gorm:"column:amount;not null"`
	Token             string            `gorm:"column:token;not null;uniqueIndex:payment_intents_token_key"`
	ProductID         int64             `gorm:"column:product_id;not null"`
	BranchID          int64             `gorm:"column:branch_id;not null"`
	Quantity          int               `gorm:"column:quantity;not null"`
	State             enums.IntentState `gorm:"column:state;type:text;not null;default:'pending'"`
	AuthorizationCode *string           `gorm:"column:authorization_code"`
	ResponseCode      *int              `gorm:"column:response_code"`
	FailureReason     *string           `gorm:"column:failure_reason"`
	SettledAt         *time.Time        `gorm:"column:settled_at"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// BeforeCreate assigns the primary key client-side so sqlite and postgres behave alike.
func (p *PaymentIntent) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
