package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/internal/inventory"
	"github.com/tradepost-labs/tradepost-backend/internal/orders"
	"github.com/tradepost-labs/tradepost-backend/pkg/config"
	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

type sweeperRunner struct {
	db *gorm.DB
}

func (r sweeperRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func TestReservationSweeperReleasesExpiredHoldsAndCancelsOrders(t *testing.T) {
	t.Parallel()

	dsn := "file:cron_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.StockUnit{}, &models.Reservation{}, &models.OutboxEvent{},
		&models.Order{}, &models.OrderLineItem{},
	))

	events := outbox.NewService(outbox.NewRepository(db), nil)
	stock, err := inventory.NewService(inventory.NewRepository(db), sweeperRunner{db: db}, events)
	require.NoError(t, err)

	ordersRepo := orders.NewRepository(db)
	orderService, err := orders.NewService(ordersRepo, stock, sweeperRunner{db: db}, events)
	require.NoError(t, err)

	listingID := uuid.New()
	order := &models.Order{BuyerID: uuid.New(), SellerID: uuid.New(), Status: enums.OrderStatusPending}
	require.NoError(t, db.Create(order).Error)
	require.NoError(t, db.Create(&models.StockUnit{ListingID: listingID, QuantityOnHand: 5}).Error)
	err = db.Transaction(func(tx *gorm.DB) error {
		_, rerr := stock.Reserve(context.Background(), tx, inventory.ReserveInput{
			OrderID:   order.ID,
			ListingID: listingID,
			Quantity:  2,
			TTL:       time.Millisecond,
		})
		return rerr
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	job, err := NewReservationSweeperJob(ReservationSweeperParams{
		Logger:         newTestLogger(t),
		Inventory:      stock,
		Pending:        ordersRepo,
		Orders:         orderService,
		ReservationTTL: time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	var unit models.StockUnit
	require.NoError(t, db.First(&unit, "listing_id = ?", listingID).Error)
	assert.Zero(t, unit.QuantityReserved, "expired hold must return stock")

	var reservation models.Reservation
	require.NoError(t, db.First(&reservation, "listing_id = ?", listingID).Error)
	assert.Equal(t, enums.ReservationStatusExpired, reservation.Status)

	var swept models.Order
	require.NoError(t, db.First(&swept, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusCanceled, swept.Status, "abandoned pending order must be canceled")

	// A second sweep finds nothing to do.
	require.NoError(t, job.Run(context.Background()))
}

type captureReconciler struct {
	cutoff  time.Time
	limit   int
	applied int
}

func (c *captureReconciler) ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	c.cutoff = cutoff
	c.limit = limit
	return c.applied, nil
}

func TestPaymentReconcileJobUsesConfiguredAge(t *testing.T) {
	t.Parallel()

	reconciler := &captureReconciler{applied: 2}
	job, err := NewPaymentReconcileJob(PaymentReconcileParams{
		Logger:   newTestLogger(t),
		Payments: reconciler,
		Config:   config.ReconcileConfig{PendingIntentAge: 10 * time.Minute},
	})
	require.NoError(t, err)

	frozen := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return frozen }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, frozen.Add(-10*time.Minute), reconciler.cutoff)
	assert.Equal(t, defaultReconcileBatchSize, reconciler.limit)
}

type capturePruner struct {
	cutoff  time.Time
	deleted int64
}

func (c *capturePruner) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	c.cutoff = cutoff
	return c.deleted, nil
}

func TestOutboxRetentionJobPrunesBeforeCutoff(t *testing.T) {
	t.Parallel()

	pruner := &capturePruner{deleted: 7}
	job, err := NewOutboxRetentionJob(OutboxRetentionParams{
		Logger:    newTestLogger(t),
		Outbox:    pruner,
		Retention: 720 * time.Hour,
	})
	require.NoError(t, err)

	frozen := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return frozen }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, frozen.Add(-720*time.Hour), pruner.cutoff)
}
