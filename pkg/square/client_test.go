package square

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/tradepost-labs/tradepost-backend/pkg/config"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Client{
		sdk:         sqclient.NewClient(sqoption.WithBaseURL(server.URL), sqoption.WithToken("test-token")),
		accessToken: "test-token",
		environment: sandboxEnv,
		baseURL:     server.URL,
		logger:      logger.New(logger.Options{ServiceName: "square-test", Output: io.Discard}),
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), config.ProviderConfig{SquareToken: ""}, logger.New(logger.Options{ServiceName: "square-test", Output: io.Discard})); err == nil {
		t.Fatal("expected error for missing access token")
	}
	if _, err := NewClient(context.Background(), config.ProviderConfig{SquareToken: "tok", SquareEnv: "staging"}, logger.New(logger.Options{ServiceName: "square-test", Output: io.Discard})); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}

func TestRefundPaymentReturnsRefund(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/refunds" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["payment_id"] != "sq-pay-1" {
			t.Errorf("unexpected payment id %v", req["payment_id"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"refund":{"id":"sq-ref-1","status":"COMPLETED","payment_id":"sq-pay-1","amount_money":{"amount":500,"currency":"USD"}}}`))
	}))

	refund, err := client.RefundPayment(context.Background(), PaymentRefundParams{
		PaymentID:      "sq-pay-1",
		AmountCents:    500,
		Currency:       "USD",
		Reason:         "buyer request",
		IdempotencyKey: "refund-1",
	})
	if err != nil {
		t.Fatalf("refund payment: %v", err)
	}
	if refund.GetID() != "sq-ref-1" {
		t.Fatalf("unexpected refund id %q", refund.GetID())
	}
	if stringValue(refund.GetStatus()) != "COMPLETED" {
		t.Fatalf("unexpected refund status %q", stringValue(refund.GetStatus()))
	}
}

func TestGetPaymentMapsProviderErrors(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND","detail":"payment not found"}]}`))
	}))

	_, err := client.GetPayment(context.Background(), "missing")
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
