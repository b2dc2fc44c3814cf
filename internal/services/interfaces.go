package services

import (
	"context"
	"errors"
	"time"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/repositories"
	"github.com/lumenshop/orders-api/internal/shipping"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order, payment or shipment could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderInvalidRefundAmount indicates a refund exceeding the refundable balance.
	ErrOrderInvalidRefundAmount = errors.New("order: invalid refund amount")
	// ErrOrderProviderFailure indicates a payment or shipping provider rejected the operation.
	ErrOrderProviderFailure = errors.New("order: provider failure")
	// ErrOrderConflict indicates duplicate or concurrently conflicting writes.
	ErrOrderConflict = errors.New("order: conflict")

	// ErrAuditInvalidInput signals invalid audit record or query parameters.
	ErrAuditInvalidInput = errors.New("audit: invalid input")

	// ErrNotificationInvalidInput signals an unusable notification request.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
)

// IngestOrderItem describes a line item crossing the sync boundary.
type IngestOrderItem struct {
	Name           string
	SKU            string
	UnitPriceCents int64
	Quantity       int
	Metadata       map[string]any
}

// IngestOrderCommand creates an order from the upstream storefront.
type IngestOrderCommand struct {
	CustomerID       *string
	GuestEmail       *string
	Currency         string
	SubtotalCents    int64
	ShippingCents    int64
	TaxCents         int64
	GrandTotalCents  int64
	Items            []IngestOrderItem
	ProviderChargeID string
	AuthorizedCents  int64
	Metadata         map[string]any
	Actor            string
}

// CapturePaymentCommand captures an authorised payment, optionally partially.
type CapturePaymentCommand struct {
	OrderID     string
	AmountCents *int64
	Actor       string
}

// ConfirmPaymentCapturedCommand applies a provider-confirmed capture without
// calling out to the provider again. Used by webhook ingestion.
type ConfirmPaymentCapturedCommand struct {
	OrderID       string
	ChargeID      string
	CapturedCents int64
	OccurredAt    time.Time
	Actor         string
}

// MarkPaymentFailedCommand records a provider-reported charge failure.
type MarkPaymentFailedCommand struct {
	OrderID  string
	ChargeID string
	Reason   string
	Actor    string
}

// RecordDisputeCommand records an opened chargeback against an order.
type RecordDisputeCommand struct {
	OrderID     string
	ChargeID    string
	DisputeID   string
	AmountCents int64
	Currency    string
	OccurredAt  time.Time
	Actor       string
}

// RefundItemInput itemises a refund against an order line.
type RefundItemInput struct {
	OrderItemID string
	Quantity    int
}

// ProcessRefundCommand refunds captured funds, optionally itemised.
type ProcessRefundCommand struct {
	OrderID     string
	AmountCents int64
	Items       []RefundItemInput
	Reason      string
	Actor       string
}

// FulfillmentItemInput selects order line quantities for a shipment.
type FulfillmentItemInput struct {
	OrderItemID string
	Quantity    int
}

// CreateFulfillmentCommand creates a shipment covering part or all of an order.
type CreateFulfillmentCommand struct {
	OrderID      string
	Items        []FulfillmentItemInput
	Carrier      string
	ServiceLevel string
	From         domain.Address
	To           domain.Address
	Actor        string
}

// TrackingUpdateCommand appends a carrier tracking event to a shipment.
type TrackingUpdateCommand struct {
	ShipmentID  string
	Status      domain.ShipmentStatus
	Description string
	Location    string
	OccurredAt  time.Time
	Metadata    map[string]any
	Actor       string
}

// QuoteRatesCommand asks the carrier for service levels, mutating nothing.
type QuoteRatesCommand struct {
	From    domain.Address
	To      domain.Address
	Parcels []shipping.Parcel
	Options map[string]string
}

// OrderService orchestrates the post-purchase order lifecycle. Every mutating
// operation runs its read-modify-write cycle inside one transaction.
type OrderService interface {
	IngestOrder(ctx context.Context, cmd IngestOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error)

	CapturePayment(ctx context.Context, cmd CapturePaymentCommand) (domain.Payment, error)
	ConfirmPaymentCaptured(ctx context.Context, cmd ConfirmPaymentCapturedCommand) error
	MarkPaymentFailed(ctx context.Context, cmd MarkPaymentFailedCommand) error
	RecordDispute(ctx context.Context, cmd RecordDisputeCommand) error
	ProcessRefund(ctx context.Context, cmd ProcessRefundCommand) (domain.Refund, error)

	CreateFulfillment(ctx context.Context, cmd CreateFulfillmentCommand) (domain.Shipment, error)
	UpdateShipmentTracking(ctx context.Context, cmd TrackingUpdateCommand) (domain.Shipment, error)
	FindShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error)
	QuoteRates(ctx context.Context, cmd QuoteRatesCommand) ([]shipping.Rate, error)
}

// AuditRecordCommand appends one immutable audit entry.
type AuditRecordCommand struct {
	OrderID    string
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	ActorType  string
	Changes    map[string]any
}

// AuditLogService owns the append-only audit trail.
type AuditLogService interface {
	Record(ctx context.Context, cmd AuditRecordCommand) (domain.AuditLogEntry, error)
	List(ctx context.Context, orderID string, filter repositories.AuditLogFilter) ([]domain.AuditLogEntry, error)
}

// Notification is a transactional message queued for asynchronous delivery.
type Notification struct {
	Type        string
	OrderID     string
	OrderNumber string
	Email       string
	OccurredAt  time.Time
	Payload     map[string]any
}

// NotificationPublisher delivers rendered notifications to the message broker.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, notification Notification) error
}

// NotificationEnqueuer accepts notifications after a mutation commits. Enqueue
// never blocks the caller; a full queue drops the notification with a log line.
type NotificationEnqueuer interface {
	Enqueue(notification Notification)
}
