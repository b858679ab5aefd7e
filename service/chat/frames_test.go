package chat

import (
	"encoding/json"
	"testing"

	"chatsync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	for name, want := range map[string]EventType{
		"auth":         EvAuth,
		"ping":         EvPing,
		"send-message": EvSendMessage,
		"mark-read":    EvMarkRead,
		"typing-start": EvTypingStart,
		"typing-stop":  EvTypingStop,
		"sync-request": EvSyncRequest,
	} {
		got, err := ParseEventType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
		assert.Equal(t, name, got.String())
	}
}

func TestParseEventTypeUnknown(t *testing.T) {
	_, err := ParseEventType("self-destruct")
	require.Error(t, err)
	assert.Equal(t, errs.CodeMalformedInput, errs.CodeOf(err))
}

func TestParseFrame(t *testing.T) {
	typ, payload, err := ParseFrame([]byte(`{"type":"ping","payload":{"n":1}}`))
	require.NoError(t, err)
	assert.Equal(t, EvPing, typ)
	assert.JSONEq(t, `{"n":1}`, string(payload))
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	_, _, err := ParseFrame([]byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, errs.CodeMalformedInput, errs.CodeOf(err))

	_, _, err = ParseFrame([]byte(`{"type":"bogus"}`))
	require.Error(t, err)
}

func TestEncodeEvent(t *testing.T) {
	data := EncodeEvent(EventUserOnline, map[string]any{"user_id": "u1"})
	var out struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "user-online", out.Event)
	assert.JSONEq(t, `{"user_id":"u1"}`, string(out.Payload))
}

func TestEncodeEventNilPayload(t *testing.T) {
	data := EncodeEvent(EventPong, nil)
	assert.JSONEq(t, `{"event":"pong"}`, string(data))
}
