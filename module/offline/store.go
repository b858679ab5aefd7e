package offline

import (
	"context"
	"time"
)

// Store persists queue entries. Entries survive process restarts; the
// registry's live-session view decides when they get replayed.
type Store interface {
	Insert(ctx context.Context, e *Entry) error

	// Pending returns undelivered entries for one device in enqueue
	// order, so replay preserves the original send order.
	Pending(ctx context.Context, userID, deviceID string) ([]*Entry, error)

	// Due returns undelivered entries whose NextRetryAt has passed,
	// oldest first, capped at limit.
	Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	MarkDelivered(ctx context.Context, id string, at time.Time) error
	Reschedule(ctx context.Context, id string, attempts int, next time.Time) error

	// DeleteFailed removes entries that exhausted their attempts and
	// returns the count dropped.
	DeleteFailed(ctx context.Context) (int64, error)

	// DeleteDelivered prunes entries delivered before cutoff.
	DeleteDelivered(ctx context.Context, cutoff time.Time) (int64, error)
}
