package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregatePaymentIntent OutboxAggregateType = "payment_intent"
	AggregateReservation   OutboxAggregateType = "reservation"
	AggregatePayoutMethod  OutboxAggregateType = "payout_method"
	AggregateSeller        OutboxAggregateType = "seller"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePaymentIntent,
	AggregateReservation,
	AggregatePayoutMethod,
	AggregateSeller,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated                OutboxEventType = "order_created"
	EventOrderConfirmed              OutboxEventType = "order_confirmed"
	EventOrderCanceled               OutboxEventType = "order_canceled"
	EventOrderStateChanged           OutboxEventType = "order_state_changed"
	EventPaymentSettled              OutboxEventType = "payment_settled"
	EventPaymentFailed               OutboxEventType = "payment_failed"
	EventPaymentRefunded             OutboxEventType = "payment_refunded"
	EventReservationReleased         OutboxEventType = "reservation_released"
	EventPayoutVerificationRequested OutboxEventType = "payout_verification_requested"
	EventPayoutBalanceChanged        OutboxEventType = "payout_balance_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderConfirmed,
	EventOrderCanceled,
	EventOrderStateChanged,
	EventPaymentSettled,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventReservationReleased,
	EventPayoutVerificationRequested,
	EventPayoutBalanceChanged,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
