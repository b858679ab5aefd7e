package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PrefSource loads a user's push preferences, materializing the
// defaults on first access.
type PrefSource interface {
	GetOrCreate(ctx context.Context, userID string) (*Preference, error)
}

type PGPrefs struct {
	pool *pgxpool.Pool
}

func NewPGPrefs(pool *pgxpool.Pool) *PGPrefs { return &PGPrefs{pool: pool} }

// GetOrCreate inserts the default row if the user has none, then reads
// it back. The no-op conflict arm keeps concurrent first accesses from
// racing into duplicates.
func (s *PGPrefs) GetOrCreate(ctx context.Context, userID string) (*Preference, error) {
	def := DefaultPreference(userID)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_preferences
			(user_id, push_enabled, message_notifications, group_notifications,
			 mention_notifications, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING`,
		def.UserID, def.PushEnabled, def.MessageNotifications, def.GroupNotifications,
		def.MentionNotifications, def.QuietHoursEnabled, def.QuietHoursStart, def.QuietHoursEnd, def.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "prefs create")
	}

	p := &Preference{}
	err = s.pool.QueryRow(ctx, `
		SELECT user_id, push_enabled, message_notifications, group_notifications,
		       mention_notifications, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone
		FROM notification_preferences WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.PushEnabled, &p.MessageNotifications, &p.GroupNotifications,
			&p.MentionNotifications, &p.QuietHoursEnabled, &p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "prefs load")
	}
	return p, nil
}
