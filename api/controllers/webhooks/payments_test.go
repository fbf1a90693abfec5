package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/tradepost-labs/tradepost-backend/internal/payments"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
)

type fakeApplier struct {
	calls int
	last  payments.ProviderEventInput
	err   error
}

func (f *fakeApplier) ApplyProviderEvent(ctx context.Context, input payments.ProviderEventInput) error {
	f.calls++
	f.last = input
	return f.err
}

func buildEvent(t *testing.T, eventType string, intentID uuid.UUID) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event_id":   "evt_" + uuid.NewString(),
		"event_type": eventType,
		"data": map[string]any{
			"intent_id":    intentID,
			"provider_ref": "sq-pay-1",
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func postEvent(handler http.HandlerFunc, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPaymentWebhookAppliesSignedEvent(t *testing.T) {
	t.Parallel()

	svc := &fakeApplier{}
	handler := PaymentWebhook(svc, "secret", nil)
	intentID := uuid.New()
	payload := buildEvent(t, "payment.succeeded", intentID)

	rec := postEvent(handler, payload, sign(payload, "secret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.calls != 1 {
		t.Fatalf("expected one apply call, got %d", svc.calls)
	}
	if svc.last.IntentID != intentID || svc.last.EventType != "payment.succeeded" {
		t.Fatalf("unexpected input: %+v", svc.last)
	}
	if string(svc.last.Payload) != string(payload) {
		t.Fatalf("raw payload not forwarded")
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	svc := &fakeApplier{}
	handler := PaymentWebhook(svc, "secret", nil)
	payload := buildEvent(t, "payment.succeeded", uuid.New())

	rec := postEvent(handler, payload, "deadbeef")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("service must not run on a bad signature")
	}

	rec = postEvent(handler, payload, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec.Code)
	}
}

func TestPaymentWebhookRequiresEventID(t *testing.T) {
	t.Parallel()

	svc := &fakeApplier{}
	handler := PaymentWebhook(svc, "secret", nil)
	payload := []byte(`{"event_type":"payment.succeeded","data":{}}`)

	rec := postEvent(handler, payload, sign(payload, "secret"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("service must not run without an event id")
	}
}

func TestPaymentWebhookPropagatesServiceFailure(t *testing.T) {
	t.Parallel()

	svc := &fakeApplier{err: pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")}
	handler := PaymentWebhook(svc, "secret", nil)
	payload := buildEvent(t, "payment.succeeded", uuid.New())

	rec := postEvent(handler, payload, sign(payload, "secret"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 so the provider retries later, got %d", rec.Code)
	}
}
