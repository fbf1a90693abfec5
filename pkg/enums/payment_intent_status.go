package enums

import "fmt"

// PaymentIntentStatus tracks the lifecycle of one collection attempt.
type PaymentIntentStatus string

const (
	PaymentIntentStatusCreated             PaymentIntentStatus = "created"
	PaymentIntentStatusPendingConfirmation PaymentIntentStatus = "pending_confirmation"
	PaymentIntentStatusSucceeded           PaymentIntentStatus = "succeeded"
	PaymentIntentStatusFailed              PaymentIntentStatus = "failed"
	PaymentIntentStatusRefunded            PaymentIntentStatus = "refunded"
)

var validPaymentIntentStatuses = []PaymentIntentStatus{
	PaymentIntentStatusCreated,
	PaymentIntentStatusPendingConfirmation,
	PaymentIntentStatusSucceeded,
	PaymentIntentStatusFailed,
	PaymentIntentStatusRefunded,
}

// String implements fmt.Stringer.
func (p PaymentIntentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentIntentStatus.
func (p PaymentIntentStatus) IsValid() bool {
	for _, candidate := range validPaymentIntentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the intent can no longer change, refund aside.
// The only edge out of a terminal status is succeeded -> refunded.
func (p PaymentIntentStatus) IsTerminal() bool {
	switch p {
	case PaymentIntentStatusSucceeded, PaymentIntentStatusFailed, PaymentIntentStatusRefunded:
		return true
	default:
		return false
	}
}

// ParsePaymentIntentStatus converts raw input into a PaymentIntentStatus.
func ParsePaymentIntentStatus(value string) (PaymentIntentStatus, error) {
	for _, candidate := range validPaymentIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment intent status %q", value)
}
