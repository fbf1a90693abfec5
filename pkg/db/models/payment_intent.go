package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// PaymentIntent is one collection attempt against an order. The unique index
// on (order_id, idempotency_key) is what makes intent creation replay-safe.
type PaymentIntent struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID        uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;index;uniqueIndex:ux_payment_intents_order_idem" json:"order_id"`
	IdempotencyKey string                    `gorm:"column:idempotency_key;type:varchar(128);not null;uniqueIndex:ux_payment_intents_order_idem" json:"idempotency_key"`
	Status         enums.PaymentIntentStatus `gorm:"column:status;type:varchar(24);not null;default:'created';index" json:"status"`
	Method         enums.PaymentMethod       `gorm:"column:method;type:varchar(16);not null" json:"method"`
	Amount         decimal.Decimal           `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency       enums.Currency            `gorm:"column:currency;type:varchar(3);not null;default:'USD'" json:"currency"`
	ProviderRef    string                    `gorm:"column:provider_ref;type:varchar(128)" json:"provider_ref,omitempty"`
	FailureReason  string                    `gorm:"column:failure_reason;type:text" json:"failure_reason,omitempty"`
	SettledAt      *time.Time                `gorm:"column:settled_at" json:"settled_at,omitempty"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                 `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default table name.
func (PaymentIntent) TableName() string {
	return "payment_intents"
}

func (i *PaymentIntent) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
