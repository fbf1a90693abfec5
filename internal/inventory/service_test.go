package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

type testRunner struct {
	db *gorm.DB
}

func (r testRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.StockUnit{}, &models.Reservation{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(
		NewRepository(db),
		testRunner{db: db},
		outbox.NewService(outbox.NewRepository(db), nil),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedStock(t *testing.T, db *gorm.DB, listingID uuid.UUID, onHand int) {
	t.Helper()
	if err := db.Create(&models.StockUnit{ListingID: listingID, QuantityOnHand: onHand}).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func reserveInTx(t *testing.T, db *gorm.DB, svc Service, input ReserveInput) (*models.Reservation, error) {
	t.Helper()
	var reservation *models.Reservation
	err := db.Transaction(func(tx *gorm.DB) error {
		var terr error
		reservation, terr = svc.Reserve(context.Background(), tx, input)
		return terr
	})
	return reservation, err
}

func TestReserveNeverOversells(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	listingID := uuid.New()
	seedStock(t, db, listingID, 5)

	if _, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 3, TTL: 15 * time.Minute}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	_, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 4, TTL: 15 * time.Minute})
	if !pkgerrors.HasCode(err, pkgerrors.CodeOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}

	if _, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 2, TTL: 15 * time.Minute}); err != nil {
		t.Fatalf("second reserve: %v", err)
	}

	var unit models.StockUnit
	if err := db.First(&unit, "listing_id = ?", listingID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if unit.QuantityOnHand != 5 || unit.QuantityReserved != 5 {
		t.Fatalf("unexpected stock state: %+v", unit)
	}
}

func TestReserveUnknownListing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)

	_, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: uuid.New(), Quantity: 1, TTL: time.Minute})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReserveReturnsExistingHoldForSamePair(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	listingID := uuid.New()
	orderID := uuid.New()
	seedStock(t, db, listingID, 5)

	first, err := reserveInTx(t, db, svc, ReserveInput{OrderID: orderID, ListingID: listingID, Quantity: 2, TTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	second, err := reserveInTx(t, db, svc, ReserveInput{OrderID: orderID, ListingID: listingID, Quantity: 2, TTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("re-reserve: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("re-reserve created a second hold: %s vs %s", first.ID, second.ID)
	}

	var held int64
	if err := db.Model(&models.Reservation{}).
		Where("order_id = ? AND listing_id = ? AND status = ?", orderID, listingID, enums.ReservationStatusHeld).
		Count(&held).Error; err != nil {
		t.Fatalf("count holds: %v", err)
	}
	if held != 1 {
		t.Fatalf("expected one held reservation per pair, got %d", held)
	}

	var unit models.StockUnit
	if err := db.First(&unit, "listing_id = ?", listingID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if unit.QuantityReserved != 2 {
		t.Fatalf("re-reserve double-counted stock: %+v", unit)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	listingID := uuid.New()
	seedStock(t, db, listingID, 5)

	reservation, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 2, TTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.Confirm(context.Background(), tx, reservation.ID)
		})
		if err != nil {
			t.Fatalf("confirm attempt %d: %v", i+1, err)
		}
	}

	var unit models.StockUnit
	if err := db.First(&unit, "listing_id = ?", listingID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if unit.QuantityOnHand != 3 || unit.QuantityReserved != 0 {
		t.Fatalf("stock deducted more than once: %+v", unit)
	}
}

func TestConfirmWinsOverExpiry(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	listingID := uuid.New()
	seedStock(t, db, listingID, 5)

	reservation, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 2, TTL: time.Millisecond})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Confirm lands first even though the deadline has passed.
	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Confirm(context.Background(), tx, reservation.ID)
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	expired, err := svc.ExpireDue(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 0 {
		t.Fatalf("sweeper expired a confirmed reservation")
	}

	var row models.Reservation
	if err := db.First(&row, "id = ?", reservation.ID).Error; err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if row.Status != enums.ReservationStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", row.Status)
	}
}

func TestConfirmAfterExpiryFails(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	listingID := uuid.New()
	seedStock(t, db, listingID, 5)

	reservation, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 2, TTL: time.Millisecond})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := svc.ExpireDue(context.Background(), time.Now(), 10); err != nil {
		t.Fatalf("expire due: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Confirm(context.Background(), tx, reservation.ID)
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestExpireDueReturnsStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	listingID := uuid.New()
	seedStock(t, db, listingID, 5)

	if _, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 3, TTL: time.Millisecond}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	expired, err := svc.ExpireDue(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	var unit models.StockUnit
	if err := db.First(&unit, "listing_id = ?", listingID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if unit.QuantityReserved != 0 {
		t.Fatalf("stock not returned: %+v", unit)
	}

	var events []models.OutboxEvent
	if err := db.Where("event_type = ?", enums.EventReservationReleased).Find(&events).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 release event, got %d", len(events))
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	listingID := uuid.New()
	seedStock(t, db, listingID, 5)

	reservation, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 2, TTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.Release(context.Background(), tx, reservation.ID)
		})
		if err != nil {
			t.Fatalf("release attempt %d: %v", i+1, err)
		}
	}

	var unit models.StockUnit
	if err := db.First(&unit, "listing_id = ?", listingID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if unit.QuantityOnHand != 5 || unit.QuantityReserved != 0 {
		t.Fatalf("stock released more than once: %+v", unit)
	}
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	listingID := uuid.New()
	seedStock(t, db, listingID, 8)

	if _, err := reserveInTx(t, db, svc, ReserveInput{OrderID: uuid.New(), ListingID: listingID, Quantity: 3, TTL: 15 * time.Minute}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	level, err := svc.Availability(context.Background(), listingID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if level.QuantityOnHand != 8 || level.QuantityReserved != 3 || level.Available != 5 {
		t.Fatalf("unexpected level: %+v", level)
	}
}
