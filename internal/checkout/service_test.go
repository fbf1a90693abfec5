package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/internal/inventory"
	"github.com/tradepost-labs/tradepost-backend/internal/ledger"
	"github.com/tradepost-labs/tradepost-backend/internal/listings"
	"github.com/tradepost-labs/tradepost-backend/internal/orders"
	"github.com/tradepost-labs/tradepost-backend/internal/payments"
	"github.com/tradepost-labs/tradepost-backend/pkg/config"
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

type testEnv struct {
	db  *gorm.DB
	svc Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Listing{},
		&models.Order{},
		&models.OrderLineItem{},
		&models.StockUnit{},
		&models.Reservation{},
		&models.PaymentIntent{},
		&models.PaymentEvent{},
		&models.LedgerEntry{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runner := testRunner{db: db}
	events := outbox.NewService(outbox.NewRepository(db), nil)

	stock, err := inventory.NewService(inventory.NewRepository(db), runner, events)
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	orderSvc, err := orders.NewService(orders.NewRepository(db), stock, runner, events)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(db), events)
	if err != nil {
		t.Fatalf("new ledger service: %v", err)
	}
	paymentSvc, err := payments.NewService(payments.NewRepository(db), orderSvc, ledgerSvc, nil, runner, events)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	svc, err := NewService(listings.NewRepository(db), orderSvc, stock, paymentSvc, runner, events,
		config.CheckoutConfig{ReservationTTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return &testEnv{db: db, svc: svc}
}

func (e *testEnv) seedListing(t *testing.T, sellerID uuid.UUID, price int64, onHand int) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		SellerID: sellerID,
		Title:    "Listing " + uuid.NewString()[:8],
		Price:    decimal.NewFromInt(price),
		Currency: enums.CurrencyUSD,
		Status:   enums.ListingStatusActive,
	}
	if err := e.db.Create(listing).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	if err := e.db.Create(&models.StockUnit{ListingID: listing.ID, QuantityOnHand: onHand}).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return listing
}

func TestCheckoutCreatesOrderReservationAndIntent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sellerID := uuid.New()
	a := env.seedListing(t, sellerID, 40, 10)
	b := env.seedListing(t, sellerID, 25, 10)

	result, err := env.svc.Checkout(context.Background(), CheckoutInput{
		BuyerID:        uuid.New(),
		IdempotencyKey: "checkout-1",
		Items: []LineInput{
			{ListingID: a.ID, Quantity: 2},
			{ListingID: b.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !result.Amount.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("expected total 105, got %s", result.Amount)
	}
	if result.Status != enums.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", result.Status)
	}

	var order models.Order
	if err := env.db.Preload("LineItems").First(&order, "id = ?", result.OrderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if len(order.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(order.LineItems))
	}

	var reservations int64
	if err := env.db.Model(&models.Reservation{}).Where("order_id = ?", result.OrderID).Count(&reservations).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if reservations != 2 {
		t.Fatalf("expected 2 reservations, got %d", reservations)
	}

	var intent models.PaymentIntent
	if err := env.db.First(&intent, "id = ?", result.IntentID).Error; err != nil {
		t.Fatalf("load intent: %v", err)
	}
	if intent.Status != enums.PaymentIntentStatusCreated {
		t.Fatalf("expected created intent, got %s", intent.Status)
	}

	var created int64
	if err := env.db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderCreated).Count(&created).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 order created event, got %d", created)
	}
}

func TestCheckoutMergesDuplicateListingItems(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sellerID := uuid.New()
	listing := env.seedListing(t, sellerID, 40, 10)

	result, err := env.svc.Checkout(context.Background(), CheckoutInput{
		BuyerID:        uuid.New(),
		IdempotencyKey: "checkout-1",
		Items: []LineInput{
			{ListingID: listing.ID, Quantity: 2},
			{ListingID: listing.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !result.Amount.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected total 120, got %s", result.Amount)
	}

	var reservations []models.Reservation
	if err := env.db.Where("order_id = ?", result.OrderID).Find(&reservations).Error; err != nil {
		t.Fatalf("load reservations: %v", err)
	}
	if len(reservations) != 1 {
		t.Fatalf("expected one hold per (order, listing) pair, got %d", len(reservations))
	}
	if reservations[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", reservations[0].Quantity)
	}

	var lineItems int64
	if err := env.db.Model(&models.OrderLineItem{}).Where("order_id = ?", result.OrderID).Count(&lineItems).Error; err != nil {
		t.Fatalf("count line items: %v", err)
	}
	if lineItems != 1 {
		t.Fatalf("expected 1 line item, got %d", lineItems)
	}

	var unit models.StockUnit
	if err := env.db.First(&unit, "listing_id = ?", listing.ID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if unit.QuantityReserved != 3 {
		t.Fatalf("expected 3 reserved, got %d", unit.QuantityReserved)
	}
}

func TestCheckoutRollsBackOnOutOfStock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sellerID := uuid.New()
	a := env.seedListing(t, sellerID, 40, 10)
	b := env.seedListing(t, sellerID, 25, 1)

	_, err := env.svc.Checkout(context.Background(), CheckoutInput{
		BuyerID:        uuid.New(),
		IdempotencyKey: "checkout-1",
		Items: []LineInput{
			{ListingID: a.ID, Quantity: 2},
			{ListingID: b.ID, Quantity: 5},
		},
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}

	// The whole attempt rolled back, including the hold that succeeded.
	var orderCount, reservationCount, intentCount int64
	if err := env.db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if err := env.db.Model(&models.Reservation{}).Count(&reservationCount).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if err := env.db.Model(&models.PaymentIntent{}).Count(&intentCount).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	if orderCount != 0 || reservationCount != 0 || intentCount != 0 {
		t.Fatalf("rollback left rows behind: orders=%d reservations=%d intents=%d",
			orderCount, reservationCount, intentCount)
	}

	var unit models.StockUnit
	if err := env.db.First(&unit, "listing_id = ?", a.ID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if unit.QuantityReserved != 0 {
		t.Fatalf("reserved stock leaked: %+v", unit)
	}
}

func TestCheckoutRejectsArchivedListing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	listing := env.seedListing(t, uuid.New(), 40, 10)
	if err := env.db.Model(&models.Listing{}).Where("id = ?", listing.ID).
		Update("status", enums.ListingStatusArchived).Error; err != nil {
		t.Fatalf("archive listing: %v", err)
	}

	_, err := env.svc.Checkout(context.Background(), CheckoutInput{
		BuyerID:        uuid.New(),
		IdempotencyKey: "checkout-1",
		Items:          []LineInput{{ListingID: listing.ID, Quantity: 1}},
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCheckoutRejectsMixedSellers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	a := env.seedListing(t, uuid.New(), 40, 10)
	b := env.seedListing(t, uuid.New(), 25, 10)

	_, err := env.svc.Checkout(context.Background(), CheckoutInput{
		BuyerID:        uuid.New(),
		IdempotencyKey: "checkout-1",
		Items: []LineInput{
			{ListingID: a.ID, Quantity: 1},
			{ListingID: b.ID, Quantity: 1},
		},
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckoutRejectsSelfPurchase(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sellerID := uuid.New()
	listing := env.seedListing(t, sellerID, 40, 10)

	_, err := env.svc.Checkout(context.Background(), CheckoutInput{
		BuyerID:        sellerID,
		IdempotencyKey: "checkout-1",
		Items:          []LineInput{{ListingID: listing.ID, Quantity: 1}},
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
