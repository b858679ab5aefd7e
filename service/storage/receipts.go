package storage

import (
	"context"
	"time"

	redisx "chatsync/service/storage/redis"

	"github.com/pkg/errors"
)

// ReceiptTracker records per-message delivered/read recipient sets.
// It is a TTL-bounded projection; message existence and content live in
// the relational store. Writes are idempotent (SADD), and a recipient
// only ever moves delivered -> read.
type ReceiptTracker struct {
	ttl time.Duration
}

type MessageStatus struct {
	Delivered []string `json:"delivered"`
	Read      []string `json:"read"`
}

func NewReceiptTracker(ttl time.Duration) *ReceiptTracker {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &ReceiptTracker{ttl: ttl}
}

func (r *ReceiptTracker) MarkDelivered(ctx context.Context, messageID, userID string) error {
	return r.mark(ctx, deliveredKey(messageID), userID)
}

// MarkRead does not re-check delivered; a read entry logically implies
// a prior or simultaneous delivery.
func (r *ReceiptTracker) MarkRead(ctx context.Context, messageID, userID string) error {
	return r.mark(ctx, readKey(messageID), userID)
}

func (r *ReceiptTracker) mark(ctx context.Context, key, userID string) error {
	pipe := redisx.Get().TxPipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "receipt mark")
}

// StatusOf returns both recipient sets; unknown messages come back empty.
func (r *ReceiptTracker) StatusOf(ctx context.Context, messageID string) (MessageStatus, error) {
	pipe := redisx.Get().Pipeline()
	dCmd := pipe.SMembers(ctx, deliveredKey(messageID))
	rCmd := pipe.SMembers(ctx, readKey(messageID))
	if _, err := pipe.Exec(ctx); err != nil {
		return MessageStatus{}, errors.Wrap(err, "receipt status")
	}
	return MessageStatus{Delivered: dCmd.Val(), Read: rCmd.Val()}, nil
}
