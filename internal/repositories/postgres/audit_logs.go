package postgresrepo

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/platform/postgres"
	"github.com/lumenshop/orders-api/internal/repositories"
)

// AuditLogRepository persists the append-only audit trail in Postgres. Entries
// are never updated or deleted.
type AuditLogRepository struct {
	db *postgres.DB
	sb sq.StatementBuilderType
}

// Append stores a single audit entry.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	const op = "audit_logs.append"

	changes, err := marshalMetadata(op, entry.Changes)
	if err != nil {
		return err
	}

	query, args, err := r.sb.Insert("audit_logs").
		Columns("id", "order_id", "entity_type", "entity_id", "action", "actor", "actor_type", "changes", "created_at").
		Values(entry.ID, entry.OrderID, entry.EntityType, entry.EntityID,
			entry.Action, entry.Actor, entry.ActorType, changes, entry.CreatedAt).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if _, err := r.db.Querier(ctx).Exec(ctx, query, args...); err != nil {
		return postgres.WrapError(op, err)
	}
	return nil
}

// ListByOrder returns the order's audit trail newest first.
func (r *AuditLogRepository) ListByOrder(ctx context.Context, orderID string, filter repositories.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	const op = "audit_logs.list_by_order"

	builder := r.sb.Select("id", "order_id", "entity_type", "entity_id", "action", "actor", "actor_type", "changes", "created_at").
		From("audit_logs").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at DESC", "id DESC")

	if filter.EntityType != "" {
		builder = builder.Where(sq.Eq{"entity_type": filter.EntityType})
	}
	if filter.Action != "" {
		builder = builder.Where(sq.Eq{"action": filter.Action})
	}
	if filter.Actor != "" {
		builder = builder.Where(sq.Eq{"actor": filter.Actor})
	}
	if filter.CreatedAt.From != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": *filter.CreatedAt.From})
	}
	if filter.CreatedAt.To != nil {
		builder = builder.Where(sq.LtOrEq{"created_at": *filter.CreatedAt.To})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var (
			entry domain.AuditLogEntry
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.EntityType, &entry.EntityID,
			&entry.Action, &entry.Actor, &entry.ActorType, &raw, &entry.CreatedAt); err != nil {
			return nil, postgres.WrapError(op, err)
		}
		if entry.Changes, err = unmarshalMetadata(op, raw); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return entries, nil
}
