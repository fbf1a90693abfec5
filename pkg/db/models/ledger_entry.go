package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// LedgerEntry is an append-only seller balance movement. Settlements credit,
// refunds debit; rows are never updated or deleted.
type LedgerEntry struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID  uuid.UUID             `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	OrderID   uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index" json:"order_id"`
	IntentID  uuid.UUID             `gorm:"column:intent_id;type:uuid;not null;index" json:"intent_id"`
	EntryType enums.LedgerEntryType `gorm:"column:entry_type;type:varchar(16);not null" json:"entry_type"`
	Amount    decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency  enums.Currency        `gorm:"column:currency;type:varchar(3);not null;default:'USD'" json:"currency"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName overrides the default table name.
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
