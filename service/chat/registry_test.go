package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	mu      sync.Mutex
	online  []string
	offline []string
	fail    bool
}

func (f *fakePresence) SetOnline(_ context.Context, userID string) error {
	if f.fail {
		return fmt.Errorf("redis down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, userID)
	return nil
}

func (f *fakePresence) SetOffline(_ context.Context, userID string) error {
	if f.fail {
		return fmt.Errorf("redis down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, userID)
	return nil
}

type fakeContacts struct {
	contacts []string
}

func (f *fakeContacts) ContactsOf(_ context.Context, _ string) ([]string, error) {
	return f.contacts, nil
}

func newTestRegistry(p *fakePresence) *Registry {
	return NewRegistry(RegistryConf{SendQueueSize: 16, FanoutWorkers: 2, FanoutQueue: 16}, p, &fakeContacts{})
}

func recvEvent(t *testing.T, s *Session) []byte {
	t.Helper()
	select {
	case msg := <-s.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message arrived")
		return nil
	}
}

func TestFirstSessionFlipsPresenceOnline(t *testing.T) {
	p := &fakePresence{}
	r := newTestRegistry(p)
	ctx := context.Background()

	_, out := r.AddSession(ctx, "u1", "d1", "s1", nil)
	assert.False(t, out.Degraded())
	assert.Equal(t, []string{"u1"}, p.online)

	// second session of the same user is not a presence transition
	r.AddSession(ctx, "u1", "d2", "s2", nil)
	assert.Equal(t, []string{"u1"}, p.online)
	assert.Len(t, r.SessionsFor("u1"), 2)
}

func TestLastSessionFlipsPresenceOffline(t *testing.T) {
	p := &fakePresence{}
	r := newTestRegistry(p)
	ctx := context.Background()

	r.AddSession(ctx, "u1", "d1", "s1", nil)
	r.AddSession(ctx, "u1", "d2", "s2", nil)

	last, _ := r.RemoveSession(ctx, "u1", "s1")
	assert.False(t, last)
	assert.Empty(t, p.offline)

	last, _ = r.RemoveSession(ctx, "u1", "s2")
	assert.True(t, last)
	assert.Equal(t, []string{"u1"}, p.offline)
	assert.False(t, r.HasSession("u1"))
}

func TestPresenceFailureNeverBlocksTracking(t *testing.T) {
	p := &fakePresence{fail: true}
	r := newTestRegistry(p)

	sess, out := r.AddSession(context.Background(), "u1", "d1", "s1", nil)
	assert.True(t, out.Degraded())
	require.NotNil(t, sess)
	assert.True(t, r.HasSession("u1"))
}

func TestEmitToAbsentUserIsNoop(t *testing.T) {
	r := newTestRegistry(&fakePresence{})
	r.EmitToUser("ghost", EventNewMessage, map[string]any{"x": 1}) // must not panic or block
	assert.Empty(t, r.SessionsFor("ghost"))
}

func TestEmitToUserReachesAllSessions(t *testing.T) {
	r := newTestRegistry(&fakePresence{})
	ctx := context.Background()
	s1, _ := r.AddSession(ctx, "u1", "d1", "s1", nil)
	s2, _ := r.AddSession(ctx, "u1", "d2", "s2", nil)

	r.EmitToUser("u1", EventNewMessage, map[string]any{"message_id": "m1"})
	assert.Contains(t, string(recvEvent(t, s1)), "new-message")
	assert.Contains(t, string(recvEvent(t, s2)), "new-message")
}

func TestEmitToUserExceptDevice(t *testing.T) {
	r := newTestRegistry(&fakePresence{})
	ctx := context.Background()
	phone, _ := r.AddSession(ctx, "u1", "phone", "s1", nil)
	laptop, _ := r.AddSession(ctx, "u1", "laptop", "s2", nil)

	r.EmitToUserExceptDevice("u1", "phone", EventReceiptsSynced, nil)
	recvEvent(t, laptop)
	select {
	case <-phone.send:
		t.Fatal("excluded device received the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDeviceConnected(t *testing.T) {
	r := newTestRegistry(&fakePresence{})
	r.AddSession(context.Background(), "u1", "phone", "s1", nil)

	assert.True(t, r.DeviceConnected("u1", "phone"))
	assert.False(t, r.DeviceConnected("u1", "laptop"))
	assert.False(t, r.DeviceConnected("u2", "phone"))
}

func TestEmitRawToDevice(t *testing.T) {
	r := newTestRegistry(&fakePresence{})
	sess, _ := r.AddSession(context.Background(), "u1", "phone", "s1", nil)

	assert.False(t, r.EmitRawToDevice("u1", "laptop", []byte("x")))
	assert.True(t, r.EmitRawToDevice("u1", "phone", []byte("x")))
	assert.Equal(t, []byte("x"), recvEvent(t, sess))
}

func TestRoomBroadcastExcludesSender(t *testing.T) {
	r := newTestRegistry(&fakePresence{})
	ctx := context.Background()
	alice, _ := r.AddSession(ctx, "alice", "d1", "s1", nil)
	bob, _ := r.AddSession(ctx, "bob", "d1", "s2", nil)
	r.JoinRoom("c1", alice)
	r.JoinRoom("c1", bob)

	r.EmitToRoom("c1", "alice", EventTyping, map[string]any{"user_id": "alice"})
	recvEvent(t, bob)
	select {
	case <-alice.send:
		t.Fatal("sender received its own room broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoveSessionReturnsJoinedRooms(t *testing.T) {
	r := newTestRegistry(&fakePresence{})
	ctx := context.Background()
	sess, _ := r.AddSession(ctx, "u1", "d1", "s1", nil)
	r.JoinRoom("c1", sess)
	r.JoinRoom("c2", sess)

	_, joined := r.RemoveSession(ctx, "u1", "s1")
	assert.ElementsMatch(t, []string{"c1", "c2"}, joined)

	// the room no longer routes to the gone session
	r.EmitToRoom("c1", "someone-else", EventTyping, nil)
	select {
	case <-sess.send:
		t.Fatal("removed session still receives room traffic")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentAddRemoveSameUser(t *testing.T) {
	r := newTestRegistry(&fakePresence{})
	ctx := context.Background()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			sid := fmt.Sprintf("s%d", i)
			r.AddSession(ctx, "u1", "d1", sid, nil)
			r.RemoveSession(ctx, "u1", sid)
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.False(t, r.HasSession("u1"))
}
