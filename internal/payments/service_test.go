package payments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/internal/inventory"
	"github.com/tradepost-labs/tradepost-backend/internal/ledger"
	"github.com/tradepost-labs/tradepost-backend/internal/orders"
	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
	"github.com/tradepost-labs/tradepost-backend/pkg/square"
)

type testRunner struct {
	db *gorm.DB
}

func (r testRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeProvider struct {
	payment    *sq.Payment
	createErr  error
	getErr     error
	refundErr  error
	refunds    int
	getCalls   int
	createCall int
}

func (f *fakeProvider) CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error) {
	f.createCall++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.payment, nil
}

func (f *fakeProvider) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.payment, nil
}

func (f *fakeProvider) RefundPayment(ctx context.Context, params square.PaymentRefundParams) (*sq.PaymentRefund, error) {
	f.refunds++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &sq.PaymentRefund{}, nil
}

func strPtr(s string) *string { return &s }

type testEnv struct {
	db       *gorm.DB
	svc      Service
	provider *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
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

	provider := &fakeProvider{
		payment: &sq.Payment{ID: strPtr("sq-pay-1"), Status: strPtr("COMPLETED")},
	}
	svc, err := NewService(NewRepository(db), orderSvc, ledgerSvc, provider, runner, events)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return &testEnv{db: db, svc: svc, provider: provider}
}

func (e *testEnv) seedOrder(t *testing.T, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		BuyerID:     uuid.New(),
		SellerID:    uuid.New(),
		Status:      status,
		TotalAmount: decimal.NewFromInt(80),
		Currency:    enums.CurrencyUSD,
	}
	if err := e.db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (e *testEnv) seedIntent(t *testing.T, orderID uuid.UUID, status enums.PaymentIntentStatus, providerRef string) *models.PaymentIntent {
	t.Helper()
	intent := &models.PaymentIntent{
		OrderID:        orderID,
		IdempotencyKey: uuid.NewString(),
		Status:         status,
		Method:         enums.PaymentMethodCard,
		Amount:         decimal.NewFromInt(80),
		Currency:       enums.CurrencyUSD,
		ProviderRef:    providerRef,
	}
	if err := e.db.Create(intent).Error; err != nil {
		t.Fatalf("seed intent: %v", err)
	}
	return intent
}

func (e *testEnv) createIntent(t *testing.T, input CreateIntentInput) (*models.PaymentIntent, error) {
	t.Helper()
	var intent *models.PaymentIntent
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var terr error
		intent, terr = e.svc.CreateIntent(context.Background(), tx, input)
		return terr
	})
	return intent, err
}

func TestCreateIntentIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()
	input := CreateIntentInput{
		OrderID:        orderID,
		IdempotencyKey: "checkout-1",
		Method:         enums.PaymentMethodCard,
		Amount:         decimal.NewFromInt(80),
	}

	first, err := env.createIntent(t, input)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := env.createIntent(t, input)
	if err != nil {
		t.Fatalf("replayed create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay created a second intent: %s vs %s", first.ID, second.ID)
	}

	var count int64
	if err := env.db.Model(&models.PaymentIntent{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 intent, got %d", count)
	}
}

func TestCreateIntentRejectsSecondOpenIntent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()

	if _, err := env.createIntent(t, CreateIntentInput{
		OrderID:        orderID,
		IdempotencyKey: "checkout-1",
		Method:         enums.PaymentMethodCard,
		Amount:         decimal.NewFromInt(80),
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := env.createIntent(t, CreateIntentInput{
		OrderID:        orderID,
		IdempotencyKey: "checkout-2",
		Method:         enums.PaymentMethodCard,
		Amount:         decimal.NewFromInt(80),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestApplyProviderEventSettlesOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.seedOrder(t, enums.OrderStatusPending)
	intent := env.seedIntent(t, order.ID, enums.PaymentIntentStatusPendingConfirmation, "sq-pay-1")

	event := ProviderEventInput{
		ProviderEventID: "evt-1",
		EventType:       EventTypeSucceeded,
		IntentID:        intent.ID,
	}
	for i := 0; i < 2; i++ {
		if err := env.svc.ApplyProviderEvent(context.Background(), event); err != nil {
			t.Fatalf("apply attempt %d: %v", i+1, err)
		}
	}

	loaded, err := env.svc.GetIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if loaded.Status != enums.PaymentIntentStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", loaded.Status)
	}
	if loaded.SettledAt == nil {
		t.Fatal("expected settled_at to be set")
	}

	var orderRow models.Order
	if err := env.db.First(&orderRow, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if orderRow.Status != enums.OrderStatusConfirmed {
		t.Fatalf("expected confirmed order, got %s", orderRow.Status)
	}

	var entries int64
	if err := env.db.Model(&models.LedgerEntry{}).Where("intent_id = ?", intent.ID).Count(&entries).Error; err != nil {
		t.Fatalf("count ledger entries: %v", err)
	}
	if entries != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", entries)
	}

	var settled int64
	if err := env.db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPaymentSettled).Count(&settled).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if settled != 1 {
		t.Fatalf("expected 1 settle event, got %d", settled)
	}
}

func TestApplyProviderEventFailureCancelsOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.seedOrder(t, enums.OrderStatusPending)
	intent := env.seedIntent(t, order.ID, enums.PaymentIntentStatusPendingConfirmation, "sq-pay-1")

	err := env.svc.ApplyProviderEvent(context.Background(), ProviderEventInput{
		ProviderEventID: "evt-fail-1",
		EventType:       EventTypeFailed,
		IntentID:        intent.ID,
		FailureReason:   "card declined",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	loaded, err := env.svc.GetIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if loaded.Status != enums.PaymentIntentStatusFailed {
		t.Fatalf("expected failed, got %s", loaded.Status)
	}
	if loaded.FailureReason != "card declined" {
		t.Fatalf("unexpected failure reason %q", loaded.FailureReason)
	}

	var orderRow models.Order
	if err := env.db.First(&orderRow, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if orderRow.Status != enums.OrderStatusCanceled {
		t.Fatalf("expected canceled order, got %s", orderRow.Status)
	}
}

func TestApplyProviderEventUnknownIntent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	err := env.svc.ApplyProviderEvent(context.Background(), ProviderEventInput{
		ProviderEventID: "evt-orphan",
		EventType:       EventTypeSucceeded,
		ProviderRef:     "missing-ref",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRefundOnlyFromSettled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.seedOrder(t, enums.OrderStatusConfirmed)
	intent := env.seedIntent(t, order.ID, enums.PaymentIntentStatusPendingConfirmation, "sq-pay-1")

	err := env.svc.Refund(context.Background(), intent.ID, nil, "buyer request")
	if !pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}

	if err := env.svc.ApplyProviderEvent(context.Background(), ProviderEventInput{
		ProviderEventID: "evt-ok",
		EventType:       EventTypeSucceeded,
		IntentID:        intent.ID,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if err := env.svc.Refund(context.Background(), intent.ID, nil, "buyer request"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	// A second refund is a no-op and does not hit the provider again.
	if err := env.svc.Refund(context.Background(), intent.ID, nil, "buyer request"); err != nil {
		t.Fatalf("repeat refund: %v", err)
	}
	if env.provider.refunds != 1 {
		t.Fatalf("expected 1 provider refund call, got %d", env.provider.refunds)
	}

	loaded, err := env.svc.GetIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if loaded.Status != enums.PaymentIntentStatusRefunded {
		t.Fatalf("expected refunded, got %s", loaded.Status)
	}

	var entries []models.LedgerEntry
	if err := env.db.Where("intent_id = ?", intent.ID).Find(&entries).Error; err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected settlement and refund entries, got %d", len(entries))
	}
}

func TestRefundEventCarriesActor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.seedOrder(t, enums.OrderStatusConfirmed)
	intent := env.seedIntent(t, order.ID, enums.PaymentIntentStatusPendingConfirmation, "sq-pay-1")

	if err := env.svc.ApplyProviderEvent(context.Background(), ProviderEventInput{
		ProviderEventID: "evt-settle",
		EventType:       EventTypeSucceeded,
		IntentID:        intent.ID,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	actor := &outbox.ActorRef{ActorID: order.BuyerID, Role: enums.ActorRoleBuyer}
	if err := env.svc.Refund(context.Background(), intent.ID, actor, "buyer request"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	var event models.OutboxEvent
	if err := env.db.First(&event, "event_type = ?", enums.EventPaymentRefunded).Error; err != nil {
		t.Fatalf("load refund event: %v", err)
	}
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Actor == nil {
		t.Fatal("refund event dropped the acting party")
	}
	if envelope.Actor.ActorID != order.BuyerID || envelope.Actor.Role != enums.ActorRoleBuyer {
		t.Fatalf("unexpected refund event actor: %+v", envelope.Actor)
	}
}

func TestConfirmSetsProviderRef(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.seedOrder(t, enums.OrderStatusPending)
	intent := env.seedIntent(t, order.ID, enums.PaymentIntentStatusCreated, "")

	confirmed, err := env.svc.Confirm(context.Background(), intent.ID, "cnon:test-source")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != enums.PaymentIntentStatusPendingConfirmation {
		t.Fatalf("expected pending confirmation, got %s", confirmed.Status)
	}
	if confirmed.ProviderRef != "sq-pay-1" {
		t.Fatalf("unexpected provider ref %q", confirmed.ProviderRef)
	}

	// Confirming again is a no-op.
	again, err := env.svc.Confirm(context.Background(), intent.ID, "cnon:test-source")
	if err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if again.Status != enums.PaymentIntentStatusPendingConfirmation {
		t.Fatalf("expected pending confirmation, got %s", again.Status)
	}
	if env.provider.createCall != 1 {
		t.Fatalf("expected 1 provider call, got %d", env.provider.createCall)
	}
}

func TestReconcileStaleSettlesPendingIntent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.seedOrder(t, enums.OrderStatusPending)
	intent := env.seedIntent(t, order.ID, enums.PaymentIntentStatusPendingConfirmation, "sq-pay-1")

	// Age the intent past the reconciliation threshold.
	stale := time.Now().Add(-time.Hour)
	if err := env.db.Model(&models.PaymentIntent{}).Where("id = ?", intent.ID).
		Update("updated_at", stale).Error; err != nil {
		t.Fatalf("age intent: %v", err)
	}

	applied, err := env.svc.ReconcileStale(context.Background(), time.Now().Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}

	loaded, err := env.svc.GetIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if loaded.Status != enums.PaymentIntentStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", loaded.Status)
	}

	// Nothing left to reconcile on the next cycle.
	applied, err = env.svc.ReconcileStale(context.Background(), time.Now().Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected 0 applied, got %d", applied)
	}
}
