package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// Listing is a purchasable item published by a seller.
type Listing struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID    uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	Title       string              `gorm:"column:title;type:varchar(256);not null" json:"title"`
	Description string              `gorm:"column:description;type:text" json:"description,omitempty"`
	Price       decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Currency    enums.Currency      `gorm:"column:currency;type:varchar(3);not null;default:'USD'" json:"currency"`
	Status      enums.ListingStatus `gorm:"column:status;type:varchar(16);not null;default:'active';index" json:"status"`
	ArchivedAt  *time.Time          `gorm:"column:archived_at" json:"archived_at,omitempty"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default table name.
func (Listing) TableName() string {
	return "listings"
}

func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
