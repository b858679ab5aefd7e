package storage

import (
	"context"
	"strings"
	"time"

	redisx "chatsync/service/storage/redis"

	"github.com/pkg/errors"
)

// TypingTracker keeps per-(conversation,user) flags alive for a short
// TTL. Nothing survives a restart; a missed clear only sticks until the
// TTL runs out, which is acceptable staleness.
type TypingTracker struct {
	ttl time.Duration
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &TypingTracker{ttl: ttl}
}

// SetTyping re-arms the flag on every typing-start.
func (t *TypingTracker) SetTyping(ctx context.Context, userID, convID string) error {
	return errors.Wrap(
		redisx.Get().Set(ctx, typingKey(convID, userID), "1", t.ttl).Err(),
		"typing set")
}

func (t *TypingTracker) ClearTyping(ctx context.Context, userID, convID string) error {
	return errors.Wrap(
		redisx.Get().Del(ctx, typingKey(convID, userID)).Err(),
		"typing clear")
}

// ClearAllFor drops the user's flags in the given conversations; the
// disconnect path calls this with every conversation it can enumerate.
func (t *TypingTracker) ClearAllFor(ctx context.Context, userID string, convIDs []string) error {
	if len(convIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(convIDs))
	for _, c := range convIDs {
		keys = append(keys, typingKey(c, userID))
	}
	return errors.Wrap(redisx.Get().Del(ctx, keys...).Err(), "typing clear all")
}

// ListTyping returns the users currently flagged in a conversation.
func (t *TypingTracker) ListTyping(ctx context.Context, convID string) ([]string, error) {
	prefix := typingKey(convID, "")
	iter := redisx.Get().Scan(ctx, 0, typingScanPattern(convID), 100).Iterator()
	var out []string
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "typing scan")
	}
	return out, nil
}
