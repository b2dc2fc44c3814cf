package postgresrepo

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/platform/postgres"
)

var shipmentColumns = []string{
	"id", "order_id", "carrier", "service_level", "tracking_number",
	"label_ref", "status", "created_at", "updated_at",
}

// ShipmentRepository persists shipments and carrier tracking history in Postgres.
type ShipmentRepository struct {
	db *postgres.DB
	sb sq.StatementBuilderType
}

// Insert stores the shipment header and its line coverage.
func (r *ShipmentRepository) Insert(ctx context.Context, shipment domain.Shipment) error {
	const op = "shipments.insert"

	query, args, err := r.sb.Insert("shipments").
		Columns(shipmentColumns...).
		Values(shipment.ID, shipment.OrderID, shipment.Carrier, shipment.ServiceLevel,
			shipment.TrackingNumber, shipment.LabelRef, string(shipment.Status),
			shipment.CreatedAt, shipment.UpdatedAt).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if _, err := r.db.Querier(ctx).Exec(ctx, query, args...); err != nil {
		return postgres.WrapError(op, err)
	}

	for _, item := range shipment.Items {
		query, args, err := r.sb.Insert("shipment_items").
			Columns("shipment_id", "order_item_id", "quantity").
			Values(shipment.ID, item.OrderItemID, item.Quantity).
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

// FindByID loads a shipment with its items and tracking history.
func (r *ShipmentRepository) FindByID(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	return r.findOne(ctx, "shipments.find_by_id", sq.Eq{"id": shipmentID})
}

// FindByTrackingNumber resolves the shipment a carrier webhook refers to.
func (r *ShipmentRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error) {
	return r.findOne(ctx, "shipments.find_by_tracking_number", sq.Eq{"tracking_number": trackingNumber})
}

func (r *ShipmentRepository) findOne(ctx context.Context, op string, pred sq.Eq) (domain.Shipment, error) {
	query, args, err := r.sb.Select(shipmentColumns...).
		From("shipments").
		Where(pred).
		ToSql()
	if err != nil {
		return domain.Shipment{}, postgres.WrapError(op, err)
	}

	shipment, err := scanShipment(op, r.db.Querier(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Shipment{}, err
	}
	return r.hydrate(ctx, shipment)
}

// ListByOrder returns the order's shipments oldest first, fully hydrated.
func (r *ShipmentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	shipments, err := listShipmentHeadersByOrder(ctx, r.db, r.sb, orderID)
	if err != nil {
		return nil, err
	}
	for i := range shipments {
		shipments[i], err = r.hydrate(ctx, shipments[i])
		if err != nil {
			return nil, err
		}
	}
	return shipments, nil
}

// UpdateStatus rewrites the derived shipment status.
func (r *ShipmentRepository) UpdateStatus(ctx context.Context, shipmentID string, status domain.ShipmentStatus, updatedAt time.Time) error {
	const op = "shipments.update_status"

	query, args, err := r.sb.Update("shipments").
		Set("status", string(status)).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"id": shipmentID}).
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

// AppendTrackingEvent stores the event. The unique index on
// (shipment_id, status, occurred_at) surfaces repeats as a conflict.
func (r *ShipmentRepository) AppendTrackingEvent(ctx context.Context, event domain.TrackingEvent) error {
	const op = "shipments.append_tracking_event"

	metadata, err := marshalMetadata(op, event.Metadata)
	if err != nil {
		return err
	}

	query, args, err := r.sb.Insert("shipment_tracking_events").
		Columns("id", "shipment_id", "status", "description", "location", "occurred_at", "metadata", "recorded_at").
		Values(event.ID, event.ShipmentID, string(event.Status), event.Description,
			event.Location, event.OccurredAt, metadata, event.RecordedAt).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if _, err := r.db.Querier(ctx).Exec(ctx, query, args...); err != nil {
		return postgres.WrapError(op, err)
	}
	return nil
}

// ShippedQuantities returns per-order-item unit counts covered by the order's
// non-cancelled shipments.
func (r *ShipmentRepository) ShippedQuantities(ctx context.Context, orderID string) (map[string]int, error) {
	const op = "shipments.shipped_quantities"

	query, args, err := r.sb.Select("si.order_item_id", "COALESCE(SUM(si.quantity), 0)").
		From("shipment_items si").
		Join("shipments s ON s.id = si.shipment_id").
		Where(sq.Eq{"s.order_id": orderID}).
		Where(sq.NotEq{"s.status": string(domain.ShipmentStatusCancelled)}).
		GroupBy("si.order_item_id").
		ToSql()
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}
	defer rows.Close()

	quantities := make(map[string]int)
	for rows.Next() {
		var (
			orderItemID string
			quantity    int
		)
		if err := rows.Scan(&orderItemID, &quantity); err != nil {
			return nil, postgres.WrapError(op, err)
		}
		quantities[orderItemID] = quantity
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return quantities, nil
}

func (r *ShipmentRepository) hydrate(ctx context.Context, shipment domain.Shipment) (domain.Shipment, error) {
	items, err := r.listItems(ctx, shipment.ID)
	if err != nil {
		return domain.Shipment{}, err
	}
	events, err := r.listEvents(ctx, shipment.ID)
	if err != nil {
		return domain.Shipment{}, err
	}
	shipment.Items = items
	shipment.Events = events
	return shipment, nil
}

func (r *ShipmentRepository) listItems(ctx context.Context, shipmentID string) ([]domain.ShipmentItem, error) {
	const op = "shipments.list_items"

	query, args, err := r.sb.Select("shipment_id", "order_item_id", "quantity").
		From("shipment_items").
		Where(sq.Eq{"shipment_id": shipmentID}).
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

	var items []domain.ShipmentItem
	for rows.Next() {
		var item domain.ShipmentItem
		if err := rows.Scan(&item.ShipmentID, &item.OrderItemID, &item.Quantity); err != nil {
			return nil, postgres.WrapError(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return items, nil
}

func (r *ShipmentRepository) listEvents(ctx context.Context, shipmentID string) ([]domain.TrackingEvent, error) {
	const op = "shipments.list_events"

	query, args, err := r.sb.Select("id", "shipment_id", "status", "description", "location", "occurred_at", "metadata", "recorded_at").
		From("shipment_tracking_events").
		Where(sq.Eq{"shipment_id": shipmentID}).
		OrderBy("occurred_at ASC", "recorded_at ASC").
		ToSql()
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}
	defer rows.Close()

	var events []domain.TrackingEvent
	for rows.Next() {
		var (
			event  domain.TrackingEvent
			status string
			raw    []byte
		)
		if err := rows.Scan(&event.ID, &event.ShipmentID, &status, &event.Description,
			&event.Location, &event.OccurredAt, &raw, &event.RecordedAt); err != nil {
			return nil, postgres.WrapError(op, err)
		}
		event.Status = domain.ShipmentStatus(status)
		if event.Metadata, err = unmarshalMetadata(op, raw); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return events, nil
}

func listShipmentHeadersByOrder(ctx context.Context, db *postgres.DB, sb sq.StatementBuilderType, orderID string) ([]domain.Shipment, error) {
	const op = "shipments.list_by_order"

	query, args, err := sb.Select(shipmentColumns...).
		From("shipments").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}

	rows, err := db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.WrapError(op, err)
	}
	defer rows.Close()

	var shipments []domain.Shipment
	for rows.Next() {
		shipment, err := scanShipment(op, rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, shipment)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return shipments, nil
}

// listShipmentsByOrder hydrates the order's shipments for aggregate loads.
func listShipmentsByOrder(ctx context.Context, db *postgres.DB, sb sq.StatementBuilderType, orderID string) ([]domain.Shipment, error) {
	repo := &ShipmentRepository{db: db, sb: sb}
	return repo.ListByOrder(ctx, orderID)
}

func scanShipment(op string, row rowScanner) (domain.Shipment, error) {
	var (
		shipment domain.Shipment
		status   string
	)
	if err := row.Scan(&shipment.ID, &shipment.OrderID, &shipment.Carrier, &shipment.ServiceLevel,
		&shipment.TrackingNumber, &shipment.LabelRef, &status,
		&shipment.CreatedAt, &shipment.UpdatedAt); err != nil {
		return domain.Shipment{}, postgres.WrapError(op, err)
	}
	shipment.Status = domain.ShipmentStatus(status)
	return shipment, nil
}
