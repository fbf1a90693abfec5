package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// Repository manages payment intents and the provider event journal.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetIntentByOrderAndKey(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.PaymentIntent, error)
	GetIntentByProviderRef(ctx context.Context, providerRef string) (*models.PaymentIntent, error)
	FindOpenIntentByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error)
	TransitionIntent(ctx context.Context, id uuid.UUID, from []enums.PaymentIntentStatus, to enums.PaymentIntentStatus, updates map[string]any) (int64, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	InsertEvent(ctx context.Context, event *models.PaymentEvent) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) GetIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) GetIntentByOrderAndKey(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND idempotency_key = ?", orderID, idempotencyKey).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) GetIntentByProviderRef(ctx context.Context, providerRef string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("provider_ref = ?", providerRef).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindOpenIntentByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []enums.PaymentIntentStatus{
			enums.PaymentIntentStatusCreated,
			enums.PaymentIntentStatusPendingConfirmation,
		}).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// TransitionIntent performs the guarded status flip. Zero rows affected means
// the intent was not in any of the expected source statuses.
func (r *repository) TransitionIntent(ctx context.Context, id uuid.UUID, from []enums.PaymentIntentStatus, to enums.PaymentIntentStatus, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// GetOrder reads the order row inside the caller's transaction so settlement
// and the order flip observe the same snapshot.
func (r *repository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) InsertEvent(ctx context.Context, event *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.PaymentIntentStatusPendingConfirmation, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
