package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// Reservation is a time-boxed hold on stock for a pending order.
type Reservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index;index:ux_reservations_order_listing_held,unique,where:status = 'held',priority:1" json:"order_id"`
	ListingID uuid.UUID               `gorm:"column:listing_id;type:uuid;not null;index;index:ux_reservations_order_listing_held,unique,where:status = 'held',priority:2" json:"listing_id"`
	Quantity  int                     `gorm:"column:quantity;not null" json:"quantity"`
	Status    enums.ReservationStatus `gorm:"column:status;type:varchar(16);not null;default:'held';index" json:"status"`
	ExpiresAt time.Time               `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default table name.
func (Reservation) TableName() string {
	return "reservations"
}

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
