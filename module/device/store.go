package device

import (
	"context"
	"time"
)

// Store persists device sessions and push tokens. Registrations use
// row-scoped upserts so concurrent connects of the same (user,device)
// never produce duplicate rows.
type Store interface {
	Upsert(ctx context.Context, userID, deviceID, platform string) (*Session, error)
	ActiveSessions(ctx context.Context, userID string) ([]*Session, error)
	TouchActivity(ctx context.Context, userID, deviceID string, at time.Time) error
	TouchSync(ctx context.Context, userID, deviceID string, at time.Time) error
	Invalidate(ctx context.Context, userID, deviceID string) error

	// DeleteInactiveBefore hard-deletes sessions whose lastActivity is
	// older than cutoff and returns the count removed.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ActiveTokens(ctx context.Context, userID string) ([]string, error)
	SaveToken(ctx context.Context, tok PushToken) error
	DeactivateTokens(ctx context.Context, tokens []string) error
}
