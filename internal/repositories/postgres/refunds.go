package postgresrepo

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/platform/postgres"
)

// RefundRepository persists executed refunds in Postgres.
type RefundRepository struct {
	db *postgres.DB
	sb sq.StatementBuilderType
}

// Insert stores the refund and its line allocations.
func (r *RefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	const op = "refunds.insert"

	query, args, err := r.sb.Insert("refunds").
		Columns("id", "order_id", "payment_id", "amount_cents", "reason", "created_at").
		Values(refund.ID, refund.OrderID, refund.PaymentID, refund.AmountCents, refund.Reason, refund.CreatedAt).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if _, err := r.db.Querier(ctx).Exec(ctx, query, args...); err != nil {
		return postgres.WrapError(op, err)
	}

	for _, item := range refund.Items {
		query, args, err := r.sb.Insert("refund_items").
			Columns("refund_id", "order_item_id", "quantity").
			Values(refund.ID, item.OrderItemID, item.Quantity).
			ToSql()
		if err != nil {
			return postgres.WrapError(op, err)
		}
		if _, err := r.db.Querier(ctx).Exec(ctx, query, args...); err != nil {
			return postgres.WrapError(op, err)
		}
	}
	return nil
}

// ListByOrder returns the order's refunds oldest first, with line allocations.
func (r *RefundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	const op = "refunds.list_by_order"

	query, args, err := r.sb.Select("id", "order_id", "payment_id", "amount_cents", "reason", "created_at").
		From("refunds").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var refund domain.Refund
		if err := rows.Scan(&refund.ID, &refund.OrderID, &refund.PaymentID,
			&refund.AmountCents, &refund.Reason, &refund.CreatedAt); err != nil {
			return nil, postgres.WrapError(op, err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}

	for i := range refunds {
		items, err := r.listItems(ctx, refunds[i].ID)
		if err != nil {
			return nil, err
		}
		refunds[i].Items = items
	}
	return refunds, nil
}

// TotalRefundedForPayment sums refund amounts recorded against the payment.
func (r *RefundRepository) TotalRefundedForPayment(ctx context.Context, paymentID string) (int64, error) {
	const op = "refunds.total_for_payment"

	query, args, err := r.sb.Select("COALESCE(SUM(amount_cents), 0)").
		From("refunds").
		Where(sq.Eq{"payment_id": paymentID}).
		ToSql()
	if err != nil {
		return 0, postgres.WrapError(op, err)
	}

	var total int64
	if err := r.db.Querier(ctx).QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, postgres.WrapError(op, err)
	}
	return total, nil
}

func (r *RefundRepository) listItems(ctx context.Context, refundID string) ([]domain.RefundItem, error) {
	const op = "refunds.list_items"

	query, args, err := r.sb.Select("order_item_id", "quantity").
		From("refund_items").
		Where(sq.Eq{"refund_id": refundID}).
		OrderBy("order_item_id ASC").
		ToSql()
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}
	defer rows.Close()

	var items []domain.RefundItem
	for rows.Next() {
		var item domain.RefundItem
		if err := rows.Scan(&item.OrderItemID, &item.Quantity); err != nil {
			return nil, postgres.WrapError(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return items, nil
}
