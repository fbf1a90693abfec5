package payouts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

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

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payouts_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.PayoutMethod{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, cfg config.PayoutConfig) Service {
	t.Helper()
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	svc, err := NewService(
		NewRepository(db),
		testRunner{db: db},
		outbox.NewService(outbox.NewRepository(db), nil),
		nil,
		cfg,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func addMethod(t *testing.T, svc Service, sellerID uuid.UUID) *models.PayoutMethod {
	t.Helper()
	method, err := svc.AddMethod(context.Background(), AddMethodInput{
		SellerID:    sellerID,
		Type:        enums.PayoutMethodTypeBankAccount,
		DisplayName: "Checking",
		AccountRef:  "acct_" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("add method: %v", err)
	}
	return method
}

func TestFirstMethodBecomesDefault(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, config.PayoutConfig{})
	sellerID := uuid.New()

	first := addMethod(t, svc, sellerID)
	second := addMethod(t, svc, sellerID)

	if !first.IsDefault {
		t.Fatal("expected first method to be default")
	}
	if second.IsDefault {
		t.Fatal("expected second method not to be default")
	}

	if err := svc.SetDefault(context.Background(), sellerID, second.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}

	methods, err := svc.ListMethods(context.Background(), sellerID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defaults := 0
	for _, m := range methods {
		if m.IsDefault {
			defaults++
			if m.ID != second.ID {
				t.Fatalf("wrong default method %s", m.ID)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}
}

func TestDeleteDefaultPromotesRemaining(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, config.PayoutConfig{})
	sellerID := uuid.New()

	first := addMethod(t, svc, sellerID)
	second := addMethod(t, svc, sellerID)

	if err := svc.DeleteMethod(context.Background(), sellerID, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	methods, err := svc.ListMethods(context.Background(), sellerID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected 1 method, got %d", len(methods))
	}
	if methods[0].ID != second.ID || !methods[0].IsDefault {
		t.Fatalf("expected %s to be promoted, got %+v", second.ID, methods[0])
	}
}

func TestVerificationFlow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, config.PayoutConfig{ResendCooldown: time.Millisecond})
	sellerID := uuid.New()
	method := addMethod(t, svc, sellerID)

	code, err := svc.SendVerificationCode(context.Background(), sellerID, method.ID)
	if err != nil {
		t.Fatalf("send code: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	if err := svc.VerifyCode(context.Background(), sellerID, method.ID, code); err != nil {
		t.Fatalf("verify: %v", err)
	}

	var row models.PayoutMethod
	if err := db.First(&row, "id = ?", method.ID).Error; err != nil {
		t.Fatalf("load method: %v", err)
	}
	if row.VerificationState != enums.PayoutVerificationVerified {
		t.Fatalf("expected verified, got %s", row.VerificationState)
	}
	if row.VerifiedAt == nil {
		t.Fatal("expected verified_at to be set")
	}
	if row.CodeHash != "" {
		t.Fatal("expected code hash to be wiped after verification")
	}

	err = svc.VerifyCode(context.Background(), sellerID, method.ID, code)
	if !pkgerrors.HasCode(err, pkgerrors.CodeAlreadyVerified) {
		t.Fatalf("expected already verified, got %v", err)
	}
}

func TestVerifyExpiredCode(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, config.PayoutConfig{ResendCooldown: time.Millisecond})
	sellerID := uuid.New()
	method := addMethod(t, svc, sellerID)

	code, err := svc.SendVerificationCode(context.Background(), sellerID, method.ID)
	if err != nil {
		t.Fatalf("send code: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	if err := db.Model(&models.PayoutMethod{}).Where("id = ?", method.ID).
		Update("code_expires_at", past).Error; err != nil {
		t.Fatalf("age code: %v", err)
	}

	err = svc.VerifyCode(context.Background(), sellerID, method.ID, code)
	if !pkgerrors.HasCode(err, pkgerrors.CodeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestVerifyMismatchedCode(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, config.PayoutConfig{ResendCooldown: time.Millisecond})
	sellerID := uuid.New()
	method := addMethod(t, svc, sellerID)

	code, err := svc.SendVerificationCode(context.Background(), sellerID, method.ID)
	if err != nil {
		t.Fatalf("send code: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	err = svc.VerifyCode(context.Background(), sellerID, method.ID, wrong)
	if !pkgerrors.HasCode(err, pkgerrors.CodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	// A mismatch does not burn the code.
	if err := svc.VerifyCode(context.Background(), sellerID, method.ID, code); err != nil {
		t.Fatalf("verify with correct code: %v", err)
	}
}

func TestResendCooldown(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, config.PayoutConfig{ResendCooldown: time.Hour})
	sellerID := uuid.New()
	method := addMethod(t, svc, sellerID)

	if _, err := svc.SendVerificationCode(context.Background(), sellerID, method.ID); err != nil {
		t.Fatalf("send code: %v", err)
	}

	_, err := svc.SendVerificationCode(context.Background(), sellerID, method.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeRateLimit) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestResendInvalidatesPriorCode(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, config.PayoutConfig{ResendCooldown: time.Millisecond})
	sellerID := uuid.New()
	method := addMethod(t, svc, sellerID)

	first, err := svc.SendVerificationCode(context.Background(), sellerID, method.ID)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	second, err := svc.SendVerificationCode(context.Background(), sellerID, method.ID)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}

	if first != second {
		err = svc.VerifyCode(context.Background(), sellerID, method.ID, first)
		if !pkgerrors.HasCode(err, pkgerrors.CodeMismatch) {
			t.Fatalf("expected stale code to mismatch, got %v", err)
		}
	}
	if err := svc.VerifyCode(context.Background(), sellerID, method.ID, second); err != nil {
		t.Fatalf("verify latest code: %v", err)
	}
}

func TestSendRejectsOtherSeller(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, config.PayoutConfig{ResendCooldown: time.Millisecond})
	method := addMethod(t, svc, uuid.New())

	_, err := svc.SendVerificationCode(context.Background(), uuid.New(), method.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
