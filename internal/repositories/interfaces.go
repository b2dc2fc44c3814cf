package repositories

import (
	"context"
	"time"

	"github.com/lumenshop/orders-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Registry exposes typed repository accessors for dependency injection.
type Registry interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Refunds() RefundRepository
	Shipments() ShipmentRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	UnitOfWork
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	PaymentStatus     *domain.PaymentStatus
	FulfillmentStatus *domain.FulfillmentStatus
	CustomerID        *string
	CreatedAt         domain.RangeQuery[time.Time]
	Limit             int
	Offset            int
}

// OrderRepository persists order aggregates. FindByID loads the full
// aggregate: items, payments and shipments with their tracking events.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) error
	UpdateFulfillmentStatus(ctx context.Context, orderID string, status domain.FulfillmentStatus, updatedAt time.Time) error
	UpdateMetadata(ctx context.Context, orderID string, metadata map[string]any, updatedAt time.Time) error
}

// PaymentRepository persists charge attempts and their captured amounts.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByProviderChargeID(ctx context.Context, providerChargeID string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	Update(ctx context.Context, payment domain.Payment) error
}

// RefundRepository persists executed refunds and their line allocations.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.Refund) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)
	// TotalRefundedForPayment sums refund amounts recorded against the payment.
	TotalRefundedForPayment(ctx context.Context, paymentID string) (int64, error)
}

// ShipmentRepository persists shipments, their line coverage and the
// append-only carrier tracking history.
type ShipmentRepository interface {
	Insert(ctx context.Context, shipment domain.Shipment) error
	FindByID(ctx context.Context, shipmentID string) (domain.Shipment, error)
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error)
	UpdateStatus(ctx context.Context, shipmentID string, status domain.ShipmentStatus, updatedAt time.Time) error
	// AppendTrackingEvent stores the event. A RepositoryError with IsConflict
	// reports an event already recorded for the same (shipment, status,
	// occurred at) triple.
	AppendTrackingEvent(ctx context.Context, event domain.TrackingEvent) error
	// ShippedQuantities returns, per order item, how many units are covered by
	// shipments of the order, excluding cancelled shipments.
	ShippedQuantities(ctx context.Context, orderID string) (map[string]int, error)
}

// AuditLogFilter narrows audit trail listings.
type AuditLogFilter struct {
	EntityType string
	Action     string
	Actor      string
	CreatedAt  domain.RangeQuery[time.Time]
	Limit      int
	Offset     int
}

// AuditLogRepository persists the append-only audit trail.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListByOrder(ctx context.Context, orderID string, filter AuditLogFilter) ([]domain.AuditLogEntry, error)
}

// CounterRepository hands out monotonically increasing sequence values used
// for human-readable order numbers.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}
