package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.LedgerEntry{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), outbox.NewService(outbox.NewRepository(db), nil))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestSettleThenRefundNetsToZero(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	sellerID := uuid.New()
	orderID := uuid.New()
	intentID := uuid.New()
	amount := decimal.RequireFromString("149.99")

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.RecordSettlement(context.Background(), tx, EntryInput{
			SellerID: sellerID,
			OrderID:  orderID,
			IntentID: intentID,
			Amount:   amount,
		})
	})
	if err != nil {
		t.Fatalf("record settlement: %v", err)
	}

	balance, err := svc.Balance(context.Background(), sellerID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(amount) {
		t.Fatalf("expected balance %s, got %s", amount, balance)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.RecordRefund(context.Background(), tx, EntryInput{
			SellerID: sellerID,
			OrderID:  orderID,
			IntentID: intentID,
			Amount:   amount,
		})
	})
	if err != nil {
		t.Fatalf("record refund: %v", err)
	}

	balance, err = svc.Balance(context.Background(), sellerID)
	if err != nil {
		t.Fatalf("balance after refund: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", balance)
	}

	history, err := svc.History(context.Background(), sellerID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
}

func TestRecordRejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.RecordSettlement(context.Background(), tx, EntryInput{
			SellerID: uuid.New(),
			OrderID:  uuid.New(),
			IntentID: uuid.New(),
			Amount:   decimal.Zero,
		})
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBalanceForUnknownSellerIsZero(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)

	balance, err := svc.Balance(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("expected zero, got %s", balance)
	}
}
