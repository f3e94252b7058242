package models

import "fulfillment-service/internal/apperror"

type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// orderTransitions lists, for each current status, the statuses it may move to.
// Statuses absent from a row's set are forbidden; delivered and cancelled are terminal.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending: {
		OrderStatusConfirmed: true,
		OrderStatusCancelled: true,
	},
	OrderStatusConfirmed: {
		OrderStatusProcessing: true,
		OrderStatusCancelled:  true,
	},
	OrderStatusProcessing: {
		OrderStatusShipped:   true,
		OrderStatusCancelled: true,
	},
	OrderStatusShipped: {
		OrderStatusDelivered: true,
	},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// Valid reports whether s is one of the six order statuses.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to OrderStatus) bool {
	return orderTransitions[from][to]
}

// ValidateTransition returns a validation error for unknown or forbidden transitions.
func ValidateTransition(from, to OrderStatus) error {
	if !to.Valid() {
		return apperror.Validation("unknown order status %q", to)
	}
	if to == OrderStatusPending {
		return apperror.Validation("orders cannot be moved back to %s", OrderStatusPending)
	}
	if !CanTransition(from, to) {
		return apperror.Validation("invalid status transition %s -> %s", from, to)
	}
	return nil
}
