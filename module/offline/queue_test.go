package offline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"chatsync/module/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	seq     int
	failing bool
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]*Entry{}}
}

func (m *memStore) Insert(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return fmt.Errorf("store down")
	}
	m.seq++
	if e.ID == "" {
		e.ID = fmt.Sprintf("e%03d", m.seq)
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memStore) Pending(_ context.Context, userID, deviceID string) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, fmt.Errorf("store down")
	}
	var out []*Entry
	for _, e := range m.entries {
		if e.UserID == userID && e.DeviceID == deviceID && e.DeliveredAt == nil {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

func (m *memStore) Due(_ context.Context, now time.Time, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.DeliveredAt == nil && !e.NextRetryAt.After(now) && e.Attempts < e.MaxAttempts {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && e.DeliveredAt == nil {
		e.DeliveredAt = &at
	}
	return nil
}

func (m *memStore) Reschedule(_ context.Context, id string, attempts int, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.Attempts = attempts
		e.NextRetryAt = next
	}
	return nil
}

func (m *memStore) DeleteFailed(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.DeliveredAt == nil && e.Attempts >= e.MaxAttempts {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteDelivered(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.DeliveredAt != nil && e.DeliveredAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) get(id string) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

// memDevices is a fixed device.Store view.
type memDevices struct {
	sessions []*device.Session
}

func (m *memDevices) Upsert(_ context.Context, userID, deviceID, platform string) (*device.Session, error) {
	return nil, nil
}
func (m *memDevices) ActiveSessions(_ context.Context, _ string) ([]*device.Session, error) {
	return m.sessions, nil
}
func (m *memDevices) TouchActivity(_ context.Context, _, _ string, _ time.Time) error { return nil }
func (m *memDevices) TouchSync(_ context.Context, _, _ string, _ time.Time) error     { return nil }
func (m *memDevices) Invalidate(_ context.Context, _, _ string) error                 { return nil }
func (m *memDevices) DeleteInactiveBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
func (m *memDevices) ActiveTokens(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (m *memDevices) SaveToken(_ context.Context, _ device.PushToken) error      { return nil }
func (m *memDevices) DeactivateTokens(_ context.Context, _ []string) error       { return nil }

type memLiveness struct {
	connected map[string]bool // deviceID -> connected
}

func (m *memLiveness) DeviceConnected(_, deviceID string) bool { return m.connected[deviceID] }

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Minute, NextBackoff(1))
	assert.Equal(t, 5*time.Minute, NextBackoff(2))
	assert.Equal(t, 15*time.Minute, NextBackoff(3))
	// attempts past the table floor at the last value
	assert.Equal(t, 15*time.Minute, NextBackoff(7))
	assert.Equal(t, time.Minute, NextBackoff(0))
}

func TestEnqueueAndDrainFIFO(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, &memDevices{}, &memLiveness{}, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out := q.Enqueue(ctx, "u1", "d1", []byte(fmt.Sprintf("m%d", i)))
		require.False(t, out.Degraded())
		time.Sleep(time.Millisecond) // distinct queuedAt for FIFO ordering
	}

	var got []string
	n, err := q.Drain(ctx, "u1", "d1", func(p []byte) bool {
		got = append(got, string(p))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"m0", "m1", "m2"}, got)

	// drained entries are marked, a second drain replays nothing
	n, err = q.Drain(ctx, "u1", "d1", func([]byte) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDrainStopsWhenSendRejects(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, &memDevices{}, &memLiveness{}, Config{})
	ctx := context.Background()

	q.Enqueue(ctx, "u1", "d1", []byte("m0"))
	time.Sleep(time.Millisecond)
	q.Enqueue(ctx, "u1", "d1", []byte("m1"))

	sent := 0
	n, err := q.Drain(ctx, "u1", "d1", func([]byte) bool {
		sent++
		return sent <= 1 // second send fails
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the rejected entry stays pending for the next drain
	n, err = q.Drain(ctx, "u1", "d1", func([]byte) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueDegradesOnStoreOutage(t *testing.T) {
	store := newMemStore()
	store.failing = true
	q := NewQueue(store, &memDevices{}, &memLiveness{}, Config{})

	out := q.Enqueue(context.Background(), "u1", "d1", []byte("m"))
	assert.True(t, out.Degraded())
}

func TestQueueForOfflineDevices(t *testing.T) {
	now := time.Now()
	devices := &memDevices{sessions: []*device.Session{
		{DeviceID: "live-fresh", LastActivity: now},
		{DeviceID: "live-stale", LastActivity: now.Add(-10 * time.Minute)},
		{DeviceID: "offline", LastActivity: now},
		{DeviceID: "sender", LastActivity: now},
	}}
	liveness := &memLiveness{connected: map[string]bool{
		"live-fresh": true,
		"live-stale": true,
		"sender":     true,
	}}
	store := newMemStore()
	q := NewQueue(store, devices, liveness, Config{FreshnessWindow: 5 * time.Minute})

	out := q.QueueForOfflineDevices(context.Background(), "u1", "sender", []byte("m"))
	require.False(t, out.Degraded())

	queued := map[string]bool{}
	for _, e := range store.entries {
		queued[e.DeviceID] = true
	}
	// connected+fresh skipped, sender skipped, stale and offline queued
	assert.Equal(t, map[string]bool{"live-stale": true, "offline": true}, queued)
}

func TestSweepDeliversAndReschedules(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, &memDevices{}, &memLiveness{}, Config{})
	ctx := context.Background()
	q.Enqueue(ctx, "u1", "accepting", []byte("a"))
	q.Enqueue(ctx, "u1", "wedged", []byte("b"))

	// both devices have live sessions, but only one accepts the payload
	liveness := &memLiveness{connected: map[string]bool{"accepting": true, "wedged": true}}
	emitter := &fakeEmitter{ok: map[string]bool{"accepting": true}}
	sw := NewSweeper(store, emitter, liveness, time.Minute, 100)

	delivered := sw.SweepOnce(ctx)
	assert.Equal(t, 1, delivered)

	var pending []*Entry
	for _, e := range store.entries {
		if e.DeliveredAt == nil {
			cp := *e
			pending = append(pending, &cp)
		}
	}
	require.Len(t, pending, 1)
	assert.Equal(t, "wedged", pending[0].DeviceID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.True(t, pending[0].NextRetryAt.After(time.Now()))
}

func TestSweepLeavesOfflineDeviceUntouched(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, &memDevices{}, &memLiveness{}, Config{})
	ctx := context.Background()
	q.Enqueue(ctx, "u1", "d1", []byte("a"))

	emitter := &fakeEmitter{}
	sw := NewSweeper(store, emitter, &memLiveness{}, time.Minute, 100)

	// no live session: sweeps pass the entry by without spending attempts
	for i := 0; i < 4; i++ {
		sw.SweepOnce(ctx)
	}
	require.Len(t, store.entries, 1)
	for _, e := range store.entries {
		assert.Equal(t, 0, e.Attempts)
		assert.Nil(t, e.DeliveredAt)
	}
	assert.Empty(t, emitter.attempts)

	// the backlog is still there for the reconnect drain
	n, err := q.Drain(ctx, "u1", "d1", func([]byte) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepNeverExceedsMaxAttempts(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, &memDevices{}, &memLiveness{}, Config{MaxAttempts: 3})
	ctx := context.Background()
	q.Enqueue(ctx, "u1", "d1", []byte("a"))

	// a live session that never accepts the payload burns real attempts
	liveness := &memLiveness{connected: map[string]bool{"d1": true}}
	emitter := &fakeEmitter{}
	sw := NewSweeper(store, emitter, liveness, time.Minute, 100)

	// force each retry due immediately, sweep past the budget
	for i := 0; i < 5; i++ {
		for id := range store.entries {
			store.Reschedule(ctx, id, store.get(id).Attempts, time.Now().Add(-time.Second))
		}
		sw.SweepOnce(ctx)
	}

	// terminal entries stay in the store undelivered, never auto-deleted
	require.Len(t, store.entries, 1)
	for _, e := range store.entries {
		assert.Equal(t, 3, e.Attempts)
		assert.Nil(t, e.DeliveredAt)
	}
	assert.Equal(t, 3, emitter.attempts["d1"])

	// only the explicit maintenance sweep removes them
	n, err := q.CleanupFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, store.entries)
}

type fakeEmitter struct {
	ok       map[string]bool
	attempts map[string]int
}

func (f *fakeEmitter) EmitRawToDevice(_, deviceID string, _ []byte) bool {
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[deviceID]++
	return f.ok[deviceID]
}
