package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// Order is the buyer-facing aggregate tying line items, the stock
// reservation, and the payment intent together.
type Order struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BuyerID        uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null;index" json:"buyer_id"`
	SellerID       uuid.UUID         `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	Status         enums.OrderStatus `gorm:"column:status;type:varchar(16);not null;default:'pending';index" json:"status"`
	TotalAmount    decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null" json:"total_amount"`
	Currency       enums.Currency    `gorm:"column:currency;type:varchar(3);not null;default:'USD'" json:"currency"`
	TrackingNumber *string           `gorm:"column:tracking_number;type:varchar(64)" json:"tracking_number,omitempty"`
	CanceledAt     *time.Time        `gorm:"column:canceled_at" json:"canceled_at,omitempty"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	LineItems []OrderLineItem `gorm:"foreignKey:OrderID" json:"line_items,omitempty"`
}

// TableName overrides the default table name.
func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
