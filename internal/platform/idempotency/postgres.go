package idempotency

import (
	"context"
	"time"

	"github.com/lumenshop/orders-api/internal/platform/postgres"
)

// PostgresStore persists the deduplication ledger in the relational store so
// that reservations survive restarts and are shared across replicas.
type PostgresStore struct {
	db *postgres.DB
}

// NewPostgresStore constructs a ledger backed by the given database handle.
func NewPostgresStore(db *postgres.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Reserve implements the Store interface. The insert joins any transaction
// already open on the context; callers outside a transaction must Release the
// reservation themselves when the delivery fails.
func (s *PostgresStore) Reserve(ctx context.Context, source, eventID string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	tag, err := s.db.Querier(ctx).Exec(ctx, `
		INSERT INTO webhook_events (source, event_id, received_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source, event_id) DO NOTHING
	`, source, eventID, now, now.Add(ttl))
	if err != nil {
		return false, postgres.WrapError("webhook_events.reserve", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release implements the Store interface.
func (s *PostgresStore) Release(ctx context.Context, source, eventID string) error {
	_, err := s.db.Querier(ctx).Exec(ctx, `
		DELETE FROM webhook_events
		WHERE source = $1 AND event_id = $2
	`, source, eventID)
	if err != nil {
		return postgres.WrapError("webhook_events.release", err)
	}
	return nil
}

// CleanupExpired implements the Store interface.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 200
	}

	tag, err := s.db.Querier(ctx).Exec(ctx, `
		DELETE FROM webhook_events
		WHERE ctid IN (
			SELECT ctid FROM webhook_events WHERE expires_at <= $1 LIMIT $2
		)
	`, now.UTC(), limit)
	if err != nil {
		return 0, postgres.WrapError("webhook_events.cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}
