package enums

import "fmt"

// PayoutMethodType identifies the destination kind for seller payouts.
type PayoutMethodType string

const (
	PayoutMethodTypeBankAccount PayoutMethodType = "bank_account"
	PayoutMethodTypeCard        PayoutMethodType = "card"
	PayoutMethodTypeWallet      PayoutMethodType = "wallet"
)

var validPayoutMethodTypes = []PayoutMethodType{
	PayoutMethodTypeBankAccount,
	PayoutMethodTypeCard,
	PayoutMethodTypeWallet,
}

// IsValid reports whether the value is a known PayoutMethodType.
func (p PayoutMethodType) IsValid() bool {
	for _, candidate := range validPayoutMethodTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutMethodType converts raw input into a PayoutMethodType.
func ParsePayoutMethodType(value string) (PayoutMethodType, error) {
	for _, candidate := range validPayoutMethodTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout method type %q", value)
}

// PayoutVerificationState is the per-method verification machine.
type PayoutVerificationState string

const (
	PayoutVerificationUnverified PayoutVerificationState = "unverified"
	PayoutVerificationCodeSent   PayoutVerificationState = "code_sent"
	PayoutVerificationVerified   PayoutVerificationState = "verified"
)

var validPayoutVerificationStates = []PayoutVerificationState{
	PayoutVerificationUnverified,
	PayoutVerificationCodeSent,
	PayoutVerificationVerified,
}

// IsValid reports whether the value is a known PayoutVerificationState.
func (p PayoutVerificationState) IsValid() bool {
	for _, candidate := range validPayoutVerificationStates {
		if candidate == p {
			return true
		}
	}
	return false
}
