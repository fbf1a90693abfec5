package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tradepost-labs/tradepost-backend/api/middleware"
	"github.com/tradepost-labs/tradepost-backend/api/responses"
	"github.com/tradepost-labs/tradepost-backend/api/validators"
	checkoutsvc "github.com/tradepost-labs/tradepost-backend/internal/checkout"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/logger"
)

// Checkout turns the buyer's draft into an order, stock holds, and a payment
// intent in one shot.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID, err := middleware.ActorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]checkoutsvc.LineInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, checkoutsvc.LineInput{
				ListingID: item.ListingID,
				Quantity:  item.Quantity,
			})
		}

		result, err := svc.Checkout(r.Context(), checkoutsvc.CheckoutInput{
			BuyerID:        buyerID,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
			Method:         enums.PaymentMethod(payload.Method),
			Items:          items,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type checkoutRequest struct {
	Method string             `json:"method,omitempty" validate:"omitempty,oneof=card bank_transfer crypto wallet"`
	Items  []checkoutItemBody `json:"items" validate:"required,min=1,dive"`
}

type checkoutItemBody struct {
	ListingID uuid.UUID `json:"listing_id" validate:"required,uuid4"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}
