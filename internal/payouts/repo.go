package payouts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// Repository manages seller payout destinations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, method *models.PayoutMethod) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutMethod, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.PayoutMethod, error)
	CountBySeller(ctx context.Context, sellerID uuid.UUID) (int64, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error)
	ClearDefault(ctx context.Context, sellerID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	LatestBySeller(ctx context.Context, sellerID uuid.UUID) (*models.PayoutMethod, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, method *models.PayoutMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutMethod, error) {
	var method models.PayoutMethod
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&method).Error; err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *repository) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.PayoutMethod, error) {
	var rows []models.PayoutMethod
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountBySeller(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PayoutMethod{}).
		Where("seller_id = ?", sellerID).
		Count(&count).Error
	return count, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.PayoutMethod{}).
		Where("id = ?", id).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ClearDefault(ctx context.Context, sellerID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.PayoutMethod{}).
		Where("seller_id = ? AND is_default", sellerID).
		Update("is_default", false).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.PayoutMethod{}).Error
}

func (r *repository) LatestBySeller(ctx context.Context, sellerID uuid.UUID) (*models.PayoutMethod, error) {
	var method models.PayoutMethod
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		First(&method).Error
	if err != nil {
		return nil, err
	}
	return &method, nil
}

// MarkVerified flips the method to verified and wipes the code material. The
// guard keeps a concurrent verify from applying twice.
func (r *repository) MarkVerified(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.PayoutMethod{}).
		Where("id = ? AND verification_state <> ?", id, enums.PayoutVerificationVerified).
		Updates(map[string]any{
			"verification_state": enums.PayoutVerificationVerified,
			"verified_at":        gorm.Expr("CURRENT_TIMESTAMP"),
			"code_hash":          "",
			"code_expires_at":    nil,
			"code_sent_at":       nil,
		})
	return res.RowsAffected, res.Error
}
