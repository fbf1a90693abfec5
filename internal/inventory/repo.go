package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// Repository manages stock units and reservations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetStockUnit(ctx context.Context, listingID uuid.UUID) (*models.StockUnit, error)
	CreateStockUnit(ctx context.Context, unit *models.StockUnit) error
	AdjustOnHand(ctx context.Context, listingID uuid.UUID, delta int) (int64, error)

	ReserveStock(ctx context.Context, listingID uuid.UUID, qty int) (int64, error)
	CommitStock(ctx context.Context, listingID uuid.UUID, qty int) (int64, error)
	ReleaseStock(ctx context.Context, listingID uuid.UUID, qty int) (int64, error)

	CreateReservation(ctx context.Context, reservation *models.Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	GetHeldReservation(ctx context.Context, orderID, listingID uuid.UUID) (*models.Reservation, error)
	GetReservationByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Reservation, error)
	TransitionReservation(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (int64, error)
	ListExpiredHeld(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetStockUnit(ctx context.Context, listingID uuid.UUID) (*models.StockUnit, error) {
	var unit models.StockUnit
	if err := r.db.WithContext(ctx).Where("listing_id = ?", listingID).First(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

func (r *repository) CreateStockUnit(ctx context.Context, unit *models.StockUnit) error {
	return r.db.WithContext(ctx).Create(unit).Error
}

func (r *repository) AdjustOnHand(ctx context.Context, listingID uuid.UUID, delta int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.StockUnit{}).
		Where("listing_id = ? AND quantity_on_hand + ? >= quantity_reserved", listingID, delta).
		Updates(map[string]any{
			"quantity_on_hand": gorm.Expr("quantity_on_hand + ?", delta),
			"updated_at":       time.Now(),
		})
	return res.RowsAffected, res.Error
}

// ReserveStock bumps the reserved counter only when enough unreserved stock
// remains. Zero rows affected means the hold would oversell.
func (r *repository) ReserveStock(ctx context.Context, listingID uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.StockUnit{}).
		Where("listing_id = ? AND quantity_on_hand - quantity_reserved >= ?", listingID, qty).
		Updates(map[string]any{
			"quantity_reserved": gorm.Expr("quantity_reserved + ?", qty),
			"updated_at":        time.Now(),
		})
	return res.RowsAffected, res.Error
}

// CommitStock converts reserved quantity into a definitive deduction.
func (r *repository) CommitStock(ctx context.Context, listingID uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.StockUnit{}).
		Where("listing_id = ? AND quantity_reserved >= ?", listingID, qty).
		Updates(map[string]any{
			"quantity_on_hand":  gorm.Expr("quantity_on_hand - ?", qty),
			"quantity_reserved": gorm.Expr("quantity_reserved - ?", qty),
			"updated_at":        time.Now(),
		})
	return res.RowsAffected, res.Error
}

// ReleaseStock returns reserved quantity to the open pool.
func (r *repository) ReleaseStock(ctx context.Context, listingID uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.StockUnit{}).
		Where("listing_id = ? AND quantity_reserved >= ?", listingID, qty).
		Updates(map[string]any{
			"quantity_reserved": gorm.Expr("quantity_reserved - ?", qty),
			"updated_at":        time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) GetHeldReservation(ctx context.Context, orderID, listingID uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND listing_id = ? AND status = ?", orderID, listingID, enums.ReservationStatusHeld).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) GetReservationByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// TransitionReservation flips the status only when the current status still
// matches. The sweeper and confirm path both race through here.
func (r *repository) TransitionReservation(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListExpiredHeld(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.ReservationStatusHeld, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
