package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// PayoutMethod is a seller payout destination. Verification code hashes are
// stored here, never the codes themselves.
type PayoutMethod struct {
	ID                uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID          uuid.UUID                     `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	Type              enums.PayoutMethodType        `gorm:"column:type;type:varchar(16);not null" json:"type"`
	DisplayName       string                        `gorm:"column:display_name;type:varchar(128);not null" json:"display_name"`
	AccountRef        string                        `gorm:"column:account_ref;type:varchar(128);not null" json:"account_ref"`
	IsDefault         bool                          `gorm:"column:is_default;not null;default:false" json:"is_default"`
	VerificationState enums.PayoutVerificationState `gorm:"column:verification_state;type:varchar(16);not null;default:'unverified'" json:"verification_state"`
	CodeHash          string                        `gorm:"column:code_hash;type:varchar(256)" json:"-"`
	CodeExpiresAt     *time.Time                    `gorm:"column:code_expires_at" json:"-"`
	CodeSentAt        *time.Time                    `gorm:"column:code_sent_at" json:"-"`
	VerifiedAt        *time.Time                    `gorm:"column:verified_at" json:"verified_at,omitempty"`
	CreatedAt         time.Time                     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default table name.
func (PayoutMethod) TableName() string {
	return "payout_methods"
}

func (m *PayoutMethod) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
