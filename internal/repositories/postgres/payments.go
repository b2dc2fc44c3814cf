package postgresrepo

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/platform/postgres"
)

var paymentColumns = []string{
	"id", "order_id", "provider_charge_id", "status",
	"amount_cents", "captured_cents", "captured_at", "created_at", "updated_at",
}

// PaymentRepository persists charge attempts in Postgres.
type PaymentRepository struct {
	db *postgres.DB
	sb sq.StatementBuilderType
}

// Insert stores a new payment row.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	const op = "payments.insert"

	query, args, err := r.sb.Insert("payments").
		Columns(paymentColumns...).
		Values(payment.ID, payment.OrderID, payment.ProviderChargeID, string(payment.Status),
			payment.AmountCents, payment.CapturedCents, payment.CapturedAt,
			payment.CreatedAt, payment.UpdatedAt).
		ToSql()
	if err != nil {
		return postgres.WrapError(op, err)
	}
	if _, err := r.db.Querier(ctx).Exec(ctx, query, args...); err != nil {
		return postgres.WrapError(op, err)
	}
	return nil
}

// FindByID loads a single payment.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find_by_id", sq.Eq{"id": paymentID})
}

// FindByProviderChargeID loads the payment recorded for the given provider
// charge reference.
func (r *PaymentRepository) FindByProviderChargeID(ctx context.Context, providerChargeID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find_by_provider_charge_id", sq.Eq{"provider_charge_id": providerChargeID})
}

func (r *PaymentRepository) findOne(ctx context.Context, op string, pred sq.Eq) (domain.Payment, error) {
	query, args, err := r.sb.Select(paymentColumns...).
		From("payments").
		Where(pred).
		ToSql()
	if err != nil {
		return domain.Payment{}, postgres.WrapError(op, err)
	}
	return scanPayment(op, r.db.Querier(ctx).QueryRow(ctx, query, args...))
}

// ListByOrder returns the order's payments oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return listPaymentsByOrder(ctx, r.db, r.sb, orderID)
}

// Update rewrites the mutable payment fields.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	const op = "payments.update"

	query, args, err := r.sb.Update("payments").
		Set("status", string(payment.Status)).
		Set("captured_cents", payment.CapturedCents).
		Set("captured_at", payment.CapturedAt).
		Set("updated_at", payment.UpdatedAt).
		Where(sq.Eq{"id": payment.ID}).
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

func listPaymentsByOrder(ctx context.Context, db *postgres.DB, sb sq.StatementBuilderType, orderID string) ([]domain.Payment, error) {
	const op = "payments.list_by_order"

	query, args, err := sb.Select(paymentColumns...).
		From("payments").
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

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(op, rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError(op, err)
	}
	return payments, nil
}

func scanPayment(op string, row rowScanner) (domain.Payment, error) {
	var (
		payment domain.Payment
		status  string
	)
	if err := row.Scan(&payment.ID, &payment.OrderID, &payment.ProviderChargeID, &status,
		&payment.AmountCents, &payment.CapturedCents, &payment.CapturedAt,
		&payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return domain.Payment{}, postgres.WrapError(op, err)
	}
	payment.Status = domain.PaymentStatus(status)
	return payment, nil
}
