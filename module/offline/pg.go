package offline

import (
	"context"
	"time"

	"chatsync/tools/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (s *PGStore) Insert(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = ids.GenerateString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO offline_queue
			(id, user_id, device_id, payload, attempts, max_attempts, queued_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.DeviceID, e.Payload, e.Attempts, e.MaxAttempts, e.QueuedAt, e.NextRetryAt)
	return errors.Wrap(err, "offline insert")
}

func (s *PGStore) Pending(ctx context.Context, userID, deviceID string) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, device_id, payload, attempts, max_attempts, queued_at, next_retry_at, delivered_at
		FROM offline_queue
		WHERE user_id = $1 AND device_id = $2 AND delivered_at IS NULL
		ORDER BY queued_at ASC`, userID, deviceID)
	if err != nil {
		return nil, errors.Wrap(err, "offline pending")
	}
	return scanEntries(rows)
}

func (s *PGStore) Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, device_id, payload, attempts, max_attempts, queued_at, next_retry_at, delivered_at
		FROM offline_queue
		WHERE delivered_at IS NULL AND next_retry_at <= $1 AND attempts < max_attempts
		ORDER BY queued_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "offline due")
	}
	return scanEntries(rows)
}

func (s *PGStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE offline_queue SET delivered_at = $2 WHERE id = $1 AND delivered_at IS NULL`, id, at)
	return errors.Wrap(err, "offline mark delivered")
}

func (s *PGStore) Reschedule(ctx context.Context, id string, attempts int, next time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE offline_queue SET attempts = $2, next_retry_at = $3 WHERE id = $1`, id, attempts, next)
	return errors.Wrap(err, "offline reschedule")
}

func (s *PGStore) DeleteFailed(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM offline_queue WHERE delivered_at IS NULL AND attempts >= max_attempts`)
	if err != nil {
		return 0, errors.Wrap(err, "offline delete failed")
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) DeleteDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM offline_queue WHERE delivered_at IS NOT NULL AND delivered_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "offline prune delivered")
	}
	return tag.RowsAffected(), nil
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.DeviceID, &e.Payload,
			&e.Attempts, &e.MaxAttempts, &e.QueuedAt, &e.NextRetryAt, &e.DeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
