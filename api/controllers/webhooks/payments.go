package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tradepost-labs/tradepost-backend/api/responses"
	"github.com/tradepost-labs/tradepost-backend/internal/payments"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Tradepost-Signature"

// ProviderEventApplier is the payments surface the webhook depends on.
type ProviderEventApplier interface {
	ApplyProviderEvent(ctx context.Context, input payments.ProviderEventInput) error
}

// paymentEvent is the provider's wire format for payment notifications.
type paymentEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      paymentEventRef `json:"data"`
}

type paymentEventRef struct {
	IntentID      uuid.UUID `json:"intent_id"`
	ProviderRef   string    `json:"provider_ref"`
	FailureReason string    `json:"failure_reason"`
}

// PaymentWebhook receives signed provider events. A bad signature is rejected
// with a 4xx so the provider stops retrying; a valid event returns 200 only
// after it has been durably recorded and applied.
func PaymentWebhook(svc ProviderEventApplier, signingSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
		if !validSignature(payload, signingSecret, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidSignature, "webhook signature verification failed"))
			return
		}

		var event paymentEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}
		if strings.TrimSpace(event.EventID) == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required"))
			return
		}

		err = svc.ApplyProviderEvent(ctx, payments.ProviderEventInput{
			ProviderEventID: event.EventID,
			EventType:       event.EventType,
			IntentID:        event.Data.IntentID,
			ProviderRef:     event.Data.ProviderRef,
			FailureReason:   event.Data.FailureReason,
			Payload:         payload,
		})
		if err != nil {
			// The full payload is journaled with the error so the event can
			// be replayed by hand.
			if logg != nil {
				eventCtx := logg.WithFields(ctx, map[string]any{
					"provider_event_id": event.EventID,
					"event_type":        event.EventType,
					"payload":           string(payload),
				})
				logg.Error(eventCtx, "webhook event failed", err)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

func validSignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
