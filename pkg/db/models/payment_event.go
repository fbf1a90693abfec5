package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentEvent records every provider notification we have applied. The
// unique provider_event_id is the dedupe key: inserting a duplicate fails
// and the caller treats that as already-processed.
type PaymentEvent struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	IntentID        uuid.UUID       `gorm:"column:intent_id;type:uuid;not null;index" json:"intent_id"`
	ProviderEventID string          `gorm:"column:provider_event_id;type:varchar(128);not null;uniqueIndex" json:"provider_event_id"`
	EventType       string          `gorm:"column:event_type;type:varchar(64);not null" json:"event_type"`
	Payload         json.RawMessage `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	ReceivedAt      time.Time       `gorm:"column:received_at;autoCreateTime" json:"received_at"`
}

// TableName overrides the default table name.
func (PaymentEvent) TableName() string {
	return "payment_events"
}

func (e *PaymentEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
