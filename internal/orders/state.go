package orders

import "github.com/tradepost-labs/tradepost-backend/pkg/enums"

// transitions is the authoritative order state machine. Anything not listed
// here is an illegal transition.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusConfirmed,
		enums.OrderStatusCanceled,
	},
	enums.OrderStatusConfirmed: {
		enums.OrderStatusProcessing,
		enums.OrderStatusCanceled,
	},
	enums.OrderStatusProcessing: {
		enums.OrderStatusShipped,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusDelivered,
	},
	enums.OrderStatusDelivered: {
		enums.OrderStatusReturned,
	},
	enums.OrderStatusCanceled: {},
	enums.OrderStatusReturned: {},
}

// canTransition reports whether the move is allowed by the state machine.
func canTransition(from, to enums.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
