package chat

import (
	"encoding/json"

	"chatsync/tools/errs"
)

// EventType is the closed set of inbound frame types. Unknown strings
// fail ParseEventType; a bad frame is rejected per-frame, never fatal.
type EventType uint8

const (
	EvUnknown EventType = iota
	EvAuth
	EvPing
	EvSendMessage
	EvMarkRead
	EvTypingStart
	EvTypingStop
	EvSyncRequest
)

var eventNames = map[EventType]string{
	EvAuth:        "auth",
	EvPing:        "ping",
	EvSendMessage: "send-message",
	EvMarkRead:    "mark-read",
	EvTypingStart: "typing-start",
	EvTypingStop:  "typing-stop",
	EvSyncRequest: "sync-request",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

func ParseEventType(s string) (EventType, error) {
	for t, name := range eventNames {
		if name == s {
			return t, nil
		}
	}
	return EvUnknown, errs.ErrMalformedInput.WrapMsg("unknown event type", "type", s)
}

// Frame is the inbound wire shape.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func ParseFrame(data []byte) (EventType, json.RawMessage, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return EvUnknown, nil, errs.ErrMalformedInput.WrapMsg("bad frame", "err", err)
	}
	t, err := ParseEventType(f.Type)
	if err != nil {
		return EvUnknown, nil, err
	}
	return t, f.Payload, nil
}

// Outbound event names pushed to clients.
const (
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventNewMessage      = "new-message"
	EventMessageRead     = "message-read"
	EventTyping          = "typing"
	EventReceiptsSynced  = "read-receipts-synced"
	EventProfileUpdated  = "profile-updated"
	EventSyncDelta       = "sync-delta"
	EventAuthOK          = "auth-ok"
	EventAuthFailed      = "auth-failed"
	EventPong            = "pong"
	EventError           = "error"
	EventServerShutdown  = "server-shutdown"
	EventOfflineReplayed = "offline-replayed"
)

// EncodeEvent builds an outbound frame; marshal errors collapse to an
// error frame so the pump always has bytes to write.
func EncodeEvent(event string, payload any) []byte {
	b, err := json.Marshal(struct {
		Event   string `json:"event"`
		Payload any    `json:"payload,omitempty"`
	}{Event: event, Payload: payload})
	if err != nil {
		return []byte(`{"event":"error","payload":{"msg":"encode failed"}}`)
	}
	return b
}

// inbound payload shapes

type AuthPayload struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type SendMessagePayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	IsGroup        bool   `json:"is_group"`
	// Display context, carried on the frame so push rendering needs no
	// extra profile lookups.
	SenderName       string `json:"sender_name"`
	ConversationName string `json:"conversation_name,omitempty"`
	// Mentions are user ids the sender tagged; they get mention-class pushes.
	Mentions []string `json:"mentions,omitempty"`
}

type MarkReadPayload struct {
	MessageIDs []string `json:"message_ids"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

type SyncRequestPayload struct {
	LastSyncMS int64 `json:"last_sync_ms"` // 0 means first-time sync
}
