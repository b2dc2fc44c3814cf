package domain

import (
	"time"
)

// Order is the root aggregate for the back office. It is created once through
// the sync boundary and mutated only by the order service afterwards. The
// monetary snapshot (subtotal/shipping/tax/grand total) is immutable after
// creation; refunds are tracked separately and never rewrite it.
type Order struct {
	ID                string
	Number            string
	CustomerID        *string
	GuestEmail        *string
	Currency          string
	SubtotalCents     int64
	ShippingCents     int64
	TaxCents          int64
	GrandTotalCents   int64
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	Metadata          map[string]any
	Items             []OrderItem
	Payments          []Payment
	Shipments         []Shipment
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TotalsConsistent reports whether the monetary snapshot satisfies
// grandTotal == subtotal + shipping + tax.
func (o Order) TotalsConsistent() bool {
	return o.GrandTotalCents == o.SubtotalCents+o.ShippingCents+o.TaxCents
}

// OrderItem is owned by exactly one order and immutable after creation. Its
// quantity bounds later refund and fulfillment requests.
type OrderItem struct {
	ID             string
	OrderID        string
	Name           string
	SKU            string
	UnitPriceCents int64
	Quantity       int
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Payment records a single charge attempt against an order. Orders may carry
// several payments (multi-capture, retried attempts).
type Payment struct {
	ID               string
	OrderID          string
	ProviderChargeID string
	Status           PaymentStatus
	AmountCents      int64
	CapturedCents    int64
	CapturedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Refundable reports whether the payment still holds captured funds that can
// be refunded.
func (p Payment) Refundable() bool {
	return p.Status == PaymentStatusCaptured || p.Status == PaymentStatusPartiallyRefunded
}

// Refund is an executed (partial) reversal of captured funds.
type Refund struct {
	ID          string
	OrderID     string
	PaymentID   string
	AmountCents int64
	Reason      string
	Items       []RefundItem
	CreatedAt   time.Time
}

// RefundItem itemises a refund against a specific order line.
type RefundItem struct {
	OrderItemID string
	Quantity    int
}

// Shipment represents a fulfillment of some or all items of an order.
type Shipment struct {
	ID             string
	OrderID        string
	Carrier        string
	ServiceLevel   string
	TrackingNumber string
	LabelRef       string
	Status         ShipmentStatus
	Items          []ShipmentItem
	Events         []TrackingEvent
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShipmentItem records how many units of an order line a shipment covers.
type ShipmentItem struct {
	ShipmentID  string
	OrderItemID string
	Quantity    int
}

// TrackingEvent is a single carrier status update. Events are append-only and
// ordered by the carrier's OccurredAt, not by insertion order.
type TrackingEvent struct {
	ID          string
	ShipmentID  string
	Status      ShipmentStatus
	Description string
	Location    string
	OccurredAt  time.Time
	Metadata    map[string]any
	RecordedAt  time.Time
}

// AuditLogEntry is an immutable record of a state-changing action. Corrections
// are new entries, never edits.
type AuditLogEntry struct {
	ID         string
	OrderID    string
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	ActorType  string
	Changes    map[string]any
	CreatedAt  time.Time
}

// Address is a postal address used for rate quoting and label creation.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// RangeQuery represents inclusive range filters for timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}
