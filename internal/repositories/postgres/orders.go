package postgresrepo

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/platform/postgres"
	"github.com/lumenshop/orders-api/internal/repositories"
)

var orderColumns = []string{
	"id", "number", "customer_id", "guest_email", "currency",
	"subtotal_cents", "shipping_cents", "tax_cents", "grand_total_cents",
	"payment_status", "fulfillment_status", "metadata", "created_at", "updated_at",
}

// OrderRepository persists order aggregates in Postgres.
type OrderRepository struct {
	db *postgres.DB
	sb sq.StatementBuilderType
}

// Insert stores the order header and its items.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"

	metadata, err := marshalMetadata(op, order.Metadata)
	if err != nil {
		return err
	}

	query, args, err := r.sb.Insert("orders").
		Columns(orderColumns...).
		Values(order.ID, order.Number, order.CustomerID, order.GuestEmail, order.Currency,
			order.SubtotalCents, order.ShippingCents, order.TaxCents, order.GrandTotalCents,
			string(order.PaymentStatus), string(order.FulfillmentStatus), metadata,
			order.CreatedAt, order.UpdatedAt).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if _, err := r.db.Querier(ctx).Exec(ctx, query, args...); err != nil {
		return postgres.WrapError(op, err)
	}

	for _, item := range order.Items {
		if err := r.insertItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) insertItem(ctx context.Context, item domain.OrderItem) error {
	const op = "orders.insert_item"

	metadata, err := marshalMetadata(op, item.Metadata)
	if err != nil {
		return err
	}

	query, args, err := r.sb.Insert("order_items").
		Columns("id", "order_id", "name", "sku", "unit_price_cents", "quantity", "metadata", "created_at").
		Values(item.ID, item.OrderID, item.Name, item.SKU, item.UnitPriceCents, item.Quantity, metadata, item.CreatedAt).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if _, err := r.db.Querier(ctx).Exec(ctx, query, args...); err != nil {
		return postgres.WrapError(op, err)
	}
	return nil
}

// FindByID loads the full aggregate: header, items, payments and shipments
// with their tracking events.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	const op = "orders.find_by_id"

	query, args, err := r.sb.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": orderID}).
		ToSql()
	if err != nil {
		return domain.Order{}, postgres.WrapError(op, err)
	}

	row := r.db.Querier(ctx).QueryRow(ctx, query, args...)
	order, err := scanOrder(op, row)
	if err != nil {
		return domain.Order{}, err
	}

	if order.Items, err = r.listItems(ctx, orderID); err != nil {
		return domain.Order{}, err
	}
	if order.Payments, err = listPaymentsByOrder(ctx, r.db, r.sb, orderID); err != nil {
		return domain.Order{}, err
	}
	if order.Shipments, err = listShipmentsByOrder(ctx, r.db, r.sb, orderID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// List returns order headers matching the filter, newest first. Items and
// child aggregates are not loaded.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	const op = "orders.list"

	builder := r.sb.Select(orderColumns...).
		From("orders").
		OrderBy("created_at DESC", "id DESC")

	if filter.PaymentStatus != nil {
		builder = builder.Where(sq.Eq{"payment_status": string(*filter.PaymentStatus)})
	}
	if filter.FulfillmentStatus != nil {
		builder = builder.Where(sq.Eq{"fulfillment_status": string(*filter.FulfillmentStatus)})
	}
	if filter.CustomerID != nil {
		builder = builder.Where(sq.Eq{"customer_id": *filter.CustomerID})
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

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(op, rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return orders, nil
}

// UpdatePaymentStatus rewrites the derived payment status on the header.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) error {
	return r.updateStatus(ctx, "orders.update_payment_status", orderID, "payment_status", string(status), updatedAt)
}

// UpdateFulfillmentStatus rewrites the derived fulfillment status on the header.
func (r *OrderRepository) UpdateFulfillmentStatus(ctx context.Context, orderID string, status domain.FulfillmentStatus, updatedAt time.Time) error {
	return r.updateStatus(ctx, "orders.update_fulfillment_status", orderID, "fulfillment_status", string(status), updatedAt)
}

// UpdateMetadata replaces the order metadata document.
func (r *OrderRepository) UpdateMetadata(ctx context.Context, orderID string, metadata map[string]any, updatedAt time.Time) error {
	const op = "orders.update_metadata"

	raw, err := marshalMetadata(op, metadata)
	if err != nil {
		return err
	}

	query, args, err := r.sb.Update("orders").
		Set("metadata", raw).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"id": orderID}).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}

	tag, err := r.db.Querier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return postgres.NotFoundError(op, pgx.ErrNoRows)
	}
	return nil
}

func (r *OrderRepository) updateStatus(ctx context.Context, op, orderID, column, status string, updatedAt time.Time) error {
	query, args, err := r.sb.Update("orders").
		Set(column, status).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"id": orderID}).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}

	tag, err := r.db.Querier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return postgres.NotFoundError(op, pgx.ErrNoRows)
	}
	return nil
}

func (r *OrderRepository) listItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	const op = "orders.list_items"

	query, args, err := r.sb.Select("id", "order_id", "name", "sku", "unit_price_cents", "quantity", "metadata", "created_at").
		From("order_items").
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

	var items []domain.OrderItem
	for rows.Next() {
		var (
			item domain.OrderItem
			raw  []byte
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.Name, &item.SKU,
			&item.UnitPriceCents, &item.Quantity, &raw, &item.CreatedAt); err != nil {
			return nil, postgres.WrapError(op, err)
		}
		if item.Metadata, err = unmarshalMetadata(op, raw); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(op string, row rowScanner) (domain.Order, error) {
	var (
		order             domain.Order
		paymentStatus     string
		fulfillmentStatus string
		raw               []byte
	)
	if err := row.Scan(&order.ID, &order.Number, &order.CustomerID, &order.GuestEmail, &order.Currency,
		&order.SubtotalCents, &order.ShippingCents, &order.TaxCents, &order.GrandTotalCents,
		&paymentStatus, &fulfillmentStatus, &raw, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, postgres.WrapError(op, err)
	}

	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.FulfillmentStatus = domain.FulfillmentStatus(fulfillmentStatus)

	metadata, err := unmarshalMetadata(op, raw)
	if err != nil {
		return domain.Order{}, err
	}
	order.Metadata = metadata
	return order, nil
}
