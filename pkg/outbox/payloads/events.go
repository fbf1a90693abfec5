package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

// OrderCreatedEvent signals a new checkout completed its stock hold.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	BuyerID       uuid.UUID       `json:"buyer_id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	ReservationID uuid.UUID       `json:"reservation_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      enums.Currency  `json:"currency"`
}

// OrderConfirmedEvent is emitted once payment settles and stock is committed.
type OrderConfirmedEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	BuyerID  uuid.UUID `json:"buyer_id"`
	SellerID uuid.UUID `json:"seller_id"`
	IntentID uuid.UUID `json:"intent_id"`
}

// OrderCanceledEvent is emitted whenever an order leaves the happy path.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	BuyerID    uuid.UUID `json:"buyer_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	CanceledAt time.Time `json:"canceled_at"`
	Reason     string    `json:"reason,omitempty"`
}

// OrderStateChangedEvent reports fulfillment progress after confirmation.
type OrderStateChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	SellerID   uuid.UUID         `json:"seller_id"`
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
}

// PaymentSettledEvent carries the settled intent details.
type PaymentSettledEvent struct {
	IntentID    uuid.UUID       `json:"intent_id"`
	OrderID     uuid.UUID       `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    enums.Currency  `json:"currency"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	SettledAt   time.Time       `json:"settled_at"`
}

// PaymentFailedEvent reports a declined or errored collection attempt.
type PaymentFailedEvent struct {
	IntentID uuid.UUID `json:"intent_id"`
	OrderID  uuid.UUID `json:"order_id"`
	Reason   string    `json:"reason,omitempty"`
}

// PaymentRefundedEvent reports a refund against a settled intent.
type PaymentRefundedEvent struct {
	IntentID uuid.UUID       `json:"intent_id"`
	OrderID  uuid.UUID       `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency enums.Currency  `json:"currency"`
}

// ReservationReleasedEvent is emitted when held stock returns to the pool.
type ReservationReleasedEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	OrderID       uuid.UUID `json:"order_id"`
	ListingID     uuid.UUID `json:"listing_id"`
	Quantity      int       `json:"quantity"`
	Expired       bool      `json:"expired"`
}

// PayoutVerificationRequestedEvent tells downstream delivery channels to
// send the code. The code itself never leaves the payout service.
type PayoutVerificationRequestedEvent struct {
	PayoutMethodID uuid.UUID `json:"payout_method_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// PayoutBalanceChangedEvent reports a ledger movement for a seller.
type PayoutBalanceChangedEvent struct {
	SellerID  uuid.UUID             `json:"seller_id"`
	OrderID   uuid.UUID             `json:"order_id"`
	EntryType enums.LedgerEntryType `json:"entry_type"`
	Amount    decimal.Decimal       `json:"amount"`
	Currency  enums.Currency        `json:"currency"`
}
