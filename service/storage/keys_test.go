package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "im:presence:u1", presenceKey("u1"))
	assert.Equal(t, "im:typing:c1:u1", typingKey("c1", "u1"))
	assert.Equal(t, "im:typing:c1:*", typingScanPattern("c1"))
	assert.Equal(t, "im:receipt:m1:delivered", deliveredKey("m1"))
	assert.Equal(t, "im:receipt:m1:read", readKey("m1"))
}

func TestDecodePresence(t *testing.T) {
	rec := decodePresence("u1", `{"online":true,"last_seen_ms":1700000000000}`)
	assert.True(t, rec.Known)
	assert.True(t, rec.Online)
	assert.Equal(t, int64(1700000000000), rec.LastSeen.UnixMilli())

	rec = decodePresence("u1", `garbage`)
	assert.False(t, rec.Known)
	assert.False(t, rec.Online)
}
