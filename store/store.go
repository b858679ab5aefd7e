// Package store holds the narrow interfaces this subsystem consumes
// from the relational persistence layer. The gateway never assumes a
// dialect beyond parameterized statements; profile/conversation/message
// CRUD itself lives elsewhere.
package store

import (
	"context"
	"time"
)

type ConversationDelta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsGroup   bool      `json:"is_group"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageDelta struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ReceiptDelta struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	State     string    `json:"state"` // delivered|read
	UpdatedAt time.Time `json:"updated_at"`
}

// Mute is a per-(user,conversation) notification mute. MutedUntil nil
// means muted indefinitely.
type Mute struct {
	UserID         string
	ConversationID string
	MutedUntil     *time.Time
}

func (m *Mute) Active(now time.Time) bool {
	if m == nil {
		return false
	}
	return m.MutedUntil == nil || m.MutedUntil.After(now)
}

type Relational interface {
	ConversationsUpdatedSince(ctx context.Context, userID string, since time.Time, limit int) ([]ConversationDelta, error)
	MessagesUpdatedSince(ctx context.Context, userID string, since time.Time, limit int) ([]MessageDelta, error)
	ReceiptsUpdatedSince(ctx context.Context, userID string, since time.Time, limit int) ([]ReceiptDelta, error)

	// SendersOf returns the distinct senders of the given messages.
	SendersOf(ctx context.Context, messageIDs []string) ([]string, error)

	// ConversationOf resolves the conversation a message belongs to;
	// empty string when the message is unknown.
	ConversationOf(ctx context.Context, messageID string) (string, error)

	ParticipantsOf(ctx context.Context, convID string) ([]string, error)
	IsParticipant(ctx context.Context, convID, userID string) (bool, error)

	ContactsOf(ctx context.Context, userID string) ([]string, error)
	// UnblockedContactsOf excludes contacts that block userID or are blocked by them.
	UnblockedContactsOf(ctx context.Context, userID string) ([]string, error)

	// ConversationMute returns nil when no mute row exists.
	ConversationMute(ctx context.Context, userID, convID string) (*Mute, error)
}
