package domain

import "slices"

// PaymentStatus enumerates the lifecycle states of a payment and of an
// order's aggregate payment view.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusAuthorized        PaymentStatus = "AUTHORIZED"
	PaymentStatusCaptured          PaymentStatus = "CAPTURED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusVoided            PaymentStatus = "VOIDED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
)

// FulfillmentStatus enumerates the order-level fulfillment states.
// CANCELLED is reserved for an explicit cancel action; no normal transition
// path sets it.
type FulfillmentStatus string

const (
	FulfillmentStatusUnfulfilled        FulfillmentStatus = "UNFULFILLED"
	FulfillmentStatusPartiallyFulfilled FulfillmentStatus = "PARTIALLY_FULFILLED"
	FulfillmentStatusFulfilled          FulfillmentStatus = "FULFILLED"
	FulfillmentStatusPartiallyDelivered FulfillmentStatus = "PARTIALLY_DELIVERED"
	FulfillmentStatusDelivered          FulfillmentStatus = "DELIVERED"
	FulfillmentStatusCancelled          FulfillmentStatus = "CANCELLED"
)

// ShipmentStatus enumerates carrier-visible shipment states in their forward
// progression. EXCEPTION and CANCELLED are sinks.
type ShipmentStatus string

const (
	ShipmentStatusLabelCreated   ShipmentStatus = "LABEL_CREATED"
	ShipmentStatusPickedUp       ShipmentStatus = "PICKED_UP"
	ShipmentStatusInTransit      ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusOutForDelivery ShipmentStatus = "OUT_FOR_DELIVERY"
	ShipmentStatusDelivered      ShipmentStatus = "DELIVERED"
	ShipmentStatusException      ShipmentStatus = "EXCEPTION"
	ShipmentStatusCancelled      ShipmentStatus = "CANCELLED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusAuthorized, PaymentStatusCaptured, PaymentStatusFailed, PaymentStatusVoided},
	PaymentStatusAuthorized:        {PaymentStatusCaptured, PaymentStatusFailed, PaymentStatusVoided},
	PaymentStatusCaptured:          {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusRefunded},
}

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentStatusUnfulfilled:        {FulfillmentStatusPartiallyFulfilled, FulfillmentStatusFulfilled, FulfillmentStatusCancelled},
	FulfillmentStatusPartiallyFulfilled: {FulfillmentStatusFulfilled, FulfillmentStatusPartiallyDelivered, FulfillmentStatusCancelled},
	FulfillmentStatusFulfilled:          {FulfillmentStatusPartiallyDelivered, FulfillmentStatusDelivered, FulfillmentStatusCancelled},
	FulfillmentStatusPartiallyDelivered: {FulfillmentStatusFulfilled, FulfillmentStatusDelivered, FulfillmentStatusCancelled},
}

var shipmentStatusRank = map[ShipmentStatus]int{
	ShipmentStatusLabelCreated:   0,
	ShipmentStatusPickedUp:       1,
	ShipmentStatusInTransit:      2,
	ShipmentStatusOutForDelivery: 3,
	ShipmentStatusDelivered:      4,
}

// CanTransitionPayment reports whether a payment may move from one status to
// another. Identical statuses are always permitted (idempotent re-apply).
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return true
	}
	return slices.Contains(paymentTransitions[from], to)
}

// CanTransitionFulfillment reports whether the order-level fulfillment status
// may move from one value to another.
func CanTransitionFulfillment(from, to FulfillmentStatus) bool {
	if from == to {
		return true
	}
	return slices.Contains(fulfillmentTransitions[from], to)
}

// ShipmentStatusRank returns the position of a status in the forward delivery
// sequence, and whether the status participates in it at all. EXCEPTION and
// CANCELLED carry no rank.
func ShipmentStatusRank(s ShipmentStatus) (int, bool) {
	rank, ok := shipmentStatusRank[s]
	return rank, ok
}

// ShipmentStatusTerminal reports whether a shipment status is a sink that no
// later tracking event may replace.
func ShipmentStatusTerminal(s ShipmentStatus) bool {
	return s == ShipmentStatusDelivered || s == ShipmentStatusException || s == ShipmentStatusCancelled
}

// ValidPaymentStatus reports whether the value is a known payment status.
func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusCaptured,
		PaymentStatusPartiallyRefunded, PaymentStatusRefunded, PaymentStatusVoided, PaymentStatusFailed:
		return true
	}
	return false
}

// ValidFulfillmentStatus reports whether the value is a known fulfillment status.
func ValidFulfillmentStatus(s FulfillmentStatus) bool {
	switch s {
	case FulfillmentStatusUnfulfilled, FulfillmentStatusPartiallyFulfilled, FulfillmentStatusFulfilled,
		FulfillmentStatusPartiallyDelivered, FulfillmentStatusDelivered, FulfillmentStatusCancelled:
		return true
	}
	return false
}

// ValidShipmentStatus reports whether the value is a known shipment status.
func ValidShipmentStatus(s ShipmentStatus) bool {
	switch s {
	case ShipmentStatusLabelCreated, ShipmentStatusPickedUp, ShipmentStatusInTransit,
		ShipmentStatusOutForDelivery, ShipmentStatusDelivered, ShipmentStatusException, ShipmentStatusCancelled:
		return true
	}
	return false
}
