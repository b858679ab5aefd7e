package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PG is the pgx-backed Relational adapter. Every query is parameterized;
// schema ownership stays with the persistence service.
type PG struct {
	pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) *PG { return &PG{pool: pool} }

func (s *PG) ConversationsUpdatedSince(ctx context.Context, userID string, since time.Time, limit int) ([]ConversationDelta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.is_group, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1 AND c.updated_at > $2
		ORDER BY c.updated_at ASC
		LIMIT $3`, userID, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "conversations delta")
	}
	defer rows.Close()
	var out []ConversationDelta
	for rows.Next() {
		var d ConversationDelta
		if err := rows.Scan(&d.ID, &d.Name, &d.IsGroup, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PG) MessagesUpdatedSince(ctx context.Context, userID string, since time.Time, limit int) ([]MessageDelta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.updated_at
		FROM messages m
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id
		WHERE p.user_id = $1 AND m.updated_at > $2
		ORDER BY m.updated_at ASC
		LIMIT $3`, userID, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "messages delta")
	}
	defer rows.Close()
	var out []MessageDelta
	for rows.Next() {
		var d MessageDelta
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.SenderID, &d.Content, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PG) ReceiptsUpdatedSince(ctx context.Context, userID string, since time.Time, limit int) ([]ReceiptDelta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.message_id, r.user_id, r.state, r.updated_at
		FROM message_receipts r
		JOIN messages m ON m.id = r.message_id
		WHERE m.sender_id = $1 AND r.updated_at > $2
		ORDER BY r.updated_at ASC
		LIMIT $3`, userID, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "receipts delta")
	}
	defer rows.Close()
	var out []ReceiptDelta
	for rows.Next() {
		var d ReceiptDelta
		if err := rows.Scan(&d.MessageID, &d.UserID, &d.State, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PG) SendersOf(ctx context.Context, messageIDs []string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT sender_id FROM messages WHERE id = ANY($1)`, messageIDs)
	if err != nil {
		return nil, errors.Wrap(err, "senders of")
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *PG) ConversationOf(ctx context.Context, messageID string) (string, error) {
	var convID string
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_id FROM messages WHERE id = $1`, messageID).Scan(&convID)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "conversation of")
	}
	return convID, nil
}

func (s *PG) ParticipantsOf(ctx context.Context, convID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1`, convID)
	if err != nil {
		return nil, errors.Wrap(err, "participants of")
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *PG) IsParticipant(ctx context.Context, convID, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`, convID, userID).Scan(&ok)
	return ok, errors.Wrap(err, "is participant")
}

func (s *PG) ContactsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contact_id FROM contacts WHERE user_id = $1`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "contacts of")
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *PG) UnblockedContactsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.contact_id FROM contacts c
		WHERE c.user_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.user_id = c.contact_id AND b.blocked_id = c.user_id)
			   OR (b.user_id = c.user_id AND b.blocked_id = c.contact_id)
		  )`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "unblocked contacts of")
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *PG) ConversationMute(ctx context.Context, userID, convID string) (*Mute, error) {
	m := &Mute{UserID: userID, ConversationID: convID}
	err := s.pool.QueryRow(ctx, `
		SELECT muted_until FROM conversation_mutes
		WHERE user_id = $1 AND conversation_id = $2`, userID, convID).
		Scan(&m.MutedUntil)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "conversation mute")
	}
	return m, nil
}
