package postgresrepo

import (
	"context"

	"github.com/lumenshop/orders-api/internal/platform/postgres"
)

// CounterRepository hands out sequence values from the counters table. The
// upsert keeps allocation atomic without a round trip to read first.
type CounterRepository struct {
	db *postgres.DB
}

// Next increments and returns the named counter.
func (r *CounterRepository) Next(ctx context.Context, name string) (int64, error) {
	const op = "counters.next"

	var value int64
	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO counters (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, name).Scan(&value)
	if err != nil {
		return 0, postgres.WrapError(op, err)
	}
	return value, nil
}
