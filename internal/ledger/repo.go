package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// Repository manages the append-only seller ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, entry *models.LedgerEntry) error
	ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.LedgerEntry, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	SellerBalances(ctx context.Context) ([]SellerBalance, error)
}

// SellerBalance is one seller's net position across all ledger entries.
type SellerBalance struct {
	SellerID uuid.UUID       `gorm:"column:seller_id"`
	Balance  decimal.Decimal `gorm:"column:balance"`
	Currency enums.Currency  `gorm:"column:currency"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) SellerBalances(ctx context.Context) ([]SellerBalance, error) {
	var rows []SellerBalance
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("seller_id, SUM(CASE WHEN entry_type = ? THEN amount ELSE -amount END) AS balance, MAX(currency) AS currency",
			enums.LedgerEntrySettlement).
		Group("seller_id").
		Order("seller_id").
		Scan(&rows).Error
	return rows, err
}
