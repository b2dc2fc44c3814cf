package postgresrepo

import (
	"context"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"

	"github.com/lumenshop/orders-api/internal/platform/postgres"
	"github.com/lumenshop/orders-api/internal/repositories"
)

// Registry wires the Postgres-backed repository set over a shared database
// handle. Transactions opened through RunInTx are picked up by every
// repository via the context.
type Registry struct {
	db *postgres.DB
	sb sq.StatementBuilderType

	orders    *OrderRepository
	payments  *PaymentRepository
	refunds   *RefundRepository
	shipments *ShipmentRepository
	auditLogs *AuditLogRepository
	counters  *CounterRepository
}

// NewRegistry builds the repository set.
func NewRegistry(db *postgres.DB) *Registry {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	return &Registry{
		db:        db,
		sb:        sb,
		orders:    &OrderRepository{db: db, sb: sb},
		payments:  &PaymentRepository{db: db, sb: sb},
		refunds:   &RefundRepository{db: db, sb: sb},
		shipments: &ShipmentRepository{db: db, sb: sb},
		auditLogs: &AuditLogRepository{db: db, sb: sb},
		counters:  &CounterRepository{db: db},
	}
}

// Orders implements repositories.Registry.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Payments implements repositories.Registry.
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

// Refunds implements repositories.Registry.
func (r *Registry) Refunds() repositories.RefundRepository { return r.refunds }

// Shipments implements repositories.Registry.
func (r *Registry) Shipments() repositories.ShipmentRepository { return r.shipments }

// AuditLogs implements repositories.Registry.
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }

// Counters implements repositories.Registry.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

func marshalMetadata(op string, metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return raw, nil
}

func unmarshalMetadata(op string, raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	if len(metadata) == 0 {
		return nil, nil
	}
	return metadata, nil
}
