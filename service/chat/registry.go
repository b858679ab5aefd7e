package chat

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"chatsync/logger"
	"chatsync/tools/errs"

	"github.com/gorilla/websocket"
)

// Session is one live transport connection for a user's device. It is
// ephemeral and owned exclusively by the Registry: created on a
// successful auth handshake, destroyed on disconnect.
type Session struct {
	ID          string
	UserID      string
	DeviceID    string
	ConnectedAt time.Time

	ws   *websocket.Conn // nil in tests
	send chan []byte     // drained by a single writer pump
}

// SendQueue exposes the outbound queue to the writer pump.
func (s *Session) SendQueue() <-chan []byte { return s.send }

// Presence is the slice of the presence store the registry drives.
type Presence interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// ContactSource resolves who gets user-online/user-offline broadcasts.
type ContactSource interface {
	ContactsOf(ctx context.Context, userID string) ([]string, error)
}

const shardCount = 64

type shard struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Session // userID -> sessionID -> session
}

// Registry is the only authority on "is this user currently reachable".
// User buckets are sharded so unrelated users never contend on one
// lock, and no I/O happens while a shard lock is held.
type Registry struct {
	shards    [shardCount]*shard
	rooms     *roomIndex
	fanout    *Fanout
	presence  Presence
	contacts  ContactSource
	sendQueue int

	closeOnce sync.Once
	closed    chan struct{}
}

type RegistryConf struct {
	SendQueueSize int
	FanoutWorkers int
	FanoutQueue   int
}

func NewRegistry(conf RegistryConf, presence Presence, contacts ContactSource) *Registry {
	if conf.SendQueueSize <= 0 {
		conf.SendQueueSize = 256
	}
	r := &Registry{
		rooms:     newRoomIndex(),
		fanout:    NewFanout(conf.FanoutWorkers, conf.FanoutQueue),
		presence:  presence,
		contacts:  contacts,
		sendQueue: conf.SendQueueSize,
		closed:    make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &shard{byUser: make(map[string]map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// AddSession registers a live connection. The first session for a user
// flips presence to online and tells their contacts; both are
// best-effort and never prevent connection tracking.
func (r *Registry) AddSession(ctx context.Context, userID, deviceID, sessionID string, ws *websocket.Conn) (*Session, errs.Outcome) {
	s := &Session{
		ID:          sessionID,
		UserID:      userID,
		DeviceID:    deviceID,
		ConnectedAt: time.Now(),
		ws:          ws,
		send:        make(chan []byte, r.sendQueue),
	}

	sh := r.shardFor(userID)
	sh.mu.Lock()
	m := sh.byUser[userID]
	first := len(m) == 0
	if m == nil {
		m = make(map[string]*Session)
		sh.byUser[userID] = m
	}
	m[sessionID] = s
	sh.mu.Unlock()

	outcome := errs.OutcomeOK
	if first {
		if err := r.presence.SetOnline(ctx, userID); err != nil {
			logger.Warnf("[registry] presence online degraded user=%s err=%v", userID, err)
			outcome = errs.OutcomeDegraded
		}
		r.notifyContacts(ctx, userID, EventUserOnline, map[string]any{"user_id": userID})
	}
	return s, outcome
}

// RemoveSession drops a connection and reports whether it was the
// user's last one. It also evicts the session from every room and
// returns those conversation ids so the caller can clear typing flags.
func (r *Registry) RemoveSession(ctx context.Context, userID, sessionID string) (last bool, joinedConvs []string) {
	sh := r.shardFor(userID)
	sh.mu.Lock()
	if m := sh.byUser[userID]; m != nil {
		delete(m, sessionID)
		if len(m) == 0 {
			delete(sh.byUser, userID)
			last = true
		}
	}
	sh.mu.Unlock()

	joinedConvs = r.rooms.leaveAll(sessionID)

	if last {
		lastSeen := time.Now()
		if err := r.presence.SetOffline(ctx, userID); err != nil {
			logger.Warnf("[registry] presence offline degraded user=%s err=%v", userID, err)
		}
		r.notifyContacts(ctx, userID, EventUserOffline, map[string]any{
			"user_id":   userID,
			"last_seen": lastSeen.UnixMilli(),
		})
	}
	return last, joinedConvs
}

func (r *Registry) notifyContacts(ctx context.Context, userID, event string, payload any) {
	if r.contacts == nil {
		return
	}
	contactIDs, err := r.contacts.ContactsOf(ctx, userID)
	if err != nil {
		logger.Warnf("[registry] contact lookup degraded user=%s err=%v", userID, err)
		return
	}
	r.EmitToUsers(contactIDs, event, payload)
}

// SessionsFor returns the live session ids of a user.
func (r *Registry) SessionsFor(userID string) []string {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	m := sh.byUser[userID]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

func (r *Registry) HasSession(userID string) bool {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.byUser[userID]) > 0
}

func (r *Registry) DeviceConnected(userID, deviceID string) bool {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	for _, s := range sh.byUser[userID] {
		if s.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func (r *Registry) sessionsOf(userID string) []*Session {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	m := sh.byUser[userID]
	out := make([]*Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

// EmitToUser fans an event out to all live sessions of a user. A user
// with no sessions is a no-op, not an error.
func (r *Registry) EmitToUser(userID, event string, payload any) {
	r.fanout.Broadcast(r.sessionsOf(userID), EncodeEvent(event, payload))
}

func (r *Registry) EmitToUsers(userIDs []string, event string, payload any) {
	if len(userIDs) == 0 {
		return
	}
	data := EncodeEvent(event, payload)
	var targets []*Session
	for _, u := range userIDs {
		targets = append(targets, r.sessionsOf(u)...)
	}
	r.fanout.Broadcast(targets, data)
}

// EmitToUserExceptDevice targets sibling devices: every session of the
// user except those belonging to excludeDeviceID.
func (r *Registry) EmitToUserExceptDevice(userID, excludeDeviceID, event string, payload any) {
	var targets []*Session
	for _, s := range r.sessionsOf(userID) {
		if s.DeviceID != excludeDeviceID {
			targets = append(targets, s)
		}
	}
	r.fanout.Broadcast(targets, EncodeEvent(event, payload))
}

// EmitRawToDevice queues pre-encoded bytes to one device's sessions.
// Returns false when nothing accepted the payload; the offline queue
// uses that as "not delivered, keep the entry".
func (r *Registry) EmitRawToDevice(userID, deviceID string, raw []byte) bool {
	delivered := false
	for _, s := range r.sessionsOf(userID) {
		if s.DeviceID != deviceID {
			continue
		}
		select {
		case s.send <- raw:
			delivered = true
		default:
		}
	}
	return delivered
}

// ===== rooms =====

func (r *Registry) JoinRoom(convID string, s *Session)  { r.rooms.join(convID, s) }
func (r *Registry) LeaveRoom(convID string, s *Session) { r.rooms.leave(convID, s.ID) }

// EmitToRoom broadcasts to every member session except the excluded
// user (typically the sender).
func (r *Registry) EmitToRoom(convID, excludeUserID, event string, payload any) {
	targets := r.rooms.sessions(convID, excludeUserID)
	r.fanout.Broadcast(targets, EncodeEvent(event, payload))
}

// Close tears the registry down at shutdown: every session gets a
// shutdown frame and its socket closed.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		bye := EncodeEvent(EventServerShutdown, nil)
		for _, sh := range r.shards {
			sh.mu.Lock()
			for _, m := range sh.byUser {
				for _, s := range m {
					select {
					case s.send <- bye:
					default:
					}
					if s.ws != nil {
						_ = s.ws.Close()
					}
				}
			}
			sh.byUser = make(map[string]map[string]*Session)
			sh.mu.Unlock()
		}
	})
}

// ===== room index =====

type roomIndex struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]*Session // convID -> sessionID -> session
	bySession map[string]map[string]struct{} // sessionID -> convIDs
}

func newRoomIndex() *roomIndex {
	return &roomIndex{
		rooms:     make(map[string]map[string]*Session),
		bySession: make(map[string]map[string]struct{}),
	}
}

func (ri *roomIndex) join(convID string, s *Session) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	m := ri.rooms[convID]
	if m == nil {
		m = make(map[string]*Session)
		ri.rooms[convID] = m
	}
	m[s.ID] = s
	cs := ri.bySession[s.ID]
	if cs == nil {
		cs = make(map[string]struct{})
		ri.bySession[s.ID] = cs
	}
	cs[convID] = struct{}{}
}

func (ri *roomIndex) leave(convID, sessionID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if m := ri.rooms[convID]; m != nil {
		delete(m, sessionID)
		if len(m) == 0 {
			delete(ri.rooms, convID)
		}
	}
	if cs := ri.bySession[sessionID]; cs != nil {
		delete(cs, convID)
		if len(cs) == 0 {
			delete(ri.bySession, sessionID)
		}
	}
}

func (ri *roomIndex) leaveAll(sessionID string) []string {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	cs := ri.bySession[sessionID]
	out := make([]string, 0, len(cs))
	for convID := range cs {
		out = append(out, convID)
		if m := ri.rooms[convID]; m != nil {
			delete(m, sessionID)
			if len(m) == 0 {
				delete(ri.rooms, convID)
			}
		}
	}
	delete(ri.bySession, sessionID)
	return out
}

func (ri *roomIndex) sessions(convID, excludeUserID string) []*Session {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	m := ri.rooms[convID]
	out := make([]*Session, 0, len(m))
	for _, s := range m {
		if s.UserID == excludeUserID {
			continue
		}
		out = append(out, s)
	}
	return out
}
