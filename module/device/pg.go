package device

import (
	"context"
	"time"

	"chatsync/tools/ids"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (s *PGStore) Upsert(ctx context.Context, userID, deviceID, platform string) (*Session, error) {
	now := time.Now()
	d := &Session{
		UserID:       userID,
		DeviceID:     deviceID,
		Platform:     platform,
		LastActivity: now,
		IsActive:     true,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO device_sessions (id, user_id, device_id, platform, last_activity, last_sync, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $5, TRUE, $5)
		ON CONFLICT (user_id, device_id) DO UPDATE
		SET platform = EXCLUDED.platform,
		    last_activity = EXCLUDED.last_activity,
		    is_active = TRUE
		RETURNING id, last_sync, created_at`,
		ids.GenerateString(), userID, deviceID, platform, now).
		Scan(&d.ID, &d.LastSync, &d.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "device upsert")
	}
	return d, nil
}

func (s *PGStore) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, device_id, platform, last_activity, last_sync, is_active, created_at
		FROM device_sessions
		WHERE user_id = $1 AND is_active
		ORDER BY last_activity DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "device list")
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		d := &Session{}
		if err := rows.Scan(&d.ID, &d.UserID, &d.DeviceID, &d.Platform,
			&d.LastActivity, &d.LastSync, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) TouchActivity(ctx context.Context, userID, deviceID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE device_sessions SET last_activity = $3
		WHERE user_id = $1 AND device_id = $2`, userID, deviceID, at)
	return errors.Wrap(err, "device touch activity")
}

func (s *PGStore) TouchSync(ctx context.Context, userID, deviceID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE device_sessions SET last_sync = $3, last_activity = $3
		WHERE user_id = $1 AND device_id = $2`, userID, deviceID, at)
	return errors.Wrap(err, "device touch sync")
}

func (s *PGStore) Invalidate(ctx context.Context, userID, deviceID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE device_sessions SET is_active = FALSE
		WHERE user_id = $1 AND device_id = $2`, userID, deviceID)
	return errors.Wrap(err, "device invalidate")
}

func (s *PGStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM device_sessions WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "device retention sweep")
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token FROM push_tokens WHERE user_id = $1 AND active`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "token list")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) SaveToken(ctx context.Context, tok PushToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO push_tokens (token, user_id, device_id, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, device_id = EXCLUDED.device_id, active = TRUE`,
		tok.Token, tok.UserID, tok.DeviceID)
	return errors.Wrap(err, "token save")
}

func (s *PGStore) DeactivateTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE push_tokens SET active = FALSE WHERE token = ANY($1)`, tokens)
	return errors.Wrap(err, "token deactivate")
}
