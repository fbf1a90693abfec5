package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockUnit is the per-listing inventory row. Availability is always derived
// as QuantityOnHand - QuantityReserved, never stored.
type StockUnit struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ListingID        uuid.UUID `gorm:"column:listing_id;type:uuid;not null;uniqueIndex" json:"listing_id"`
	QuantityOnHand   int       `gorm:"column:quantity_on_hand;not null;default:0" json:"quantity_on_hand"`
	QuantityReserved int       `gorm:"column:quantity_reserved;not null;default:0" json:"quantity_reserved"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default table name.
func (StockUnit) TableName() string {
	return "stock_units"
}

// Available returns the quantity still open to new reservations.
func (s StockUnit) Available() int {
	return s.QuantityOnHand - s.QuantityReserved
}

func (s *StockUnit) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
