// Package idempotency implements the webhook deduplication ledger. Providers
// deliver events at least once; the ledger records each provider event id so
// that a redelivery is acknowledged without re-applying side effects.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is the default duration that deduplication records are retained.
// It must exceed the longest provider redelivery window.
const DefaultTTL = 72 * time.Hour

// Store persists webhook event reservations.
type Store interface {
	// Reserve records the (source, eventID) pair. It returns true when the
	// event has not been seen before and the caller should process it, false
	// when it is a duplicate delivery.
	Reserve(ctx context.Context, source, eventID string, now time.Time, ttl time.Duration) (bool, error)
	// Release drops a reservation after a failed delivery so the provider's
	// retry is processed instead of acknowledged as a duplicate.
	Release(ctx context.Context, source, eventID string) error
	// CleanupExpired removes up to limit expired records and reports how many
	// were deleted.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}
