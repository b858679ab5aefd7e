package storage

import (
	"context"
	"encoding/json"
	"time"

	redisx "chatsync/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PresenceRecord is the TTL-bounded online/last-seen projection.
// Known=false means the key expired or never existed; callers treat
// that as offline/never seen, not as an error.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
	Known    bool      `json:"-"`
}

// PresenceEvent goes out on the broadcast channel on every write so a
// horizontally scaled deployment can fan presence changes across nodes.
type PresenceEvent struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen_ms"`
	Gateway  string `json:"gateway"`
}

// PresencePublisher is satisfied by the events bus; nil disables publishing.
type PresencePublisher interface {
	PublishPresence(ev PresenceEvent)
}

type PresenceConf struct {
	GatewayID  string
	OnlineTTL  time.Duration // re-armed on every online write
	OfflineTTL time.Duration // far longer, keeps last-seen queryable for days
}

type PresenceStore struct {
	conf PresenceConf
	pub  PresencePublisher
}

func NewPresenceStore(conf PresenceConf, pub PresencePublisher) *PresenceStore {
	if conf.OnlineTTL <= 0 {
		conf.OnlineTTL = 30 * time.Minute
	}
	if conf.OfflineTTL <= 0 {
		conf.OfflineTTL = 7 * 24 * time.Hour
	}
	return &PresenceStore{conf: conf, pub: pub}
}

type presenceValue struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"last_seen_ms"`
}

func (s *PresenceStore) SetOnline(ctx context.Context, userID string) error {
	return s.write(ctx, userID, true, s.conf.OnlineTTL)
}

func (s *PresenceStore) SetOffline(ctx context.Context, userID string) error {
	return s.write(ctx, userID, false, s.conf.OfflineTTL)
}

func (s *PresenceStore) write(ctx context.Context, userID string, online bool, ttl time.Duration) error {
	now := time.Now()
	b, _ := json.Marshal(presenceValue{Online: online, LastSeen: now.UnixMilli()})
	if err := redisx.Get().Set(ctx, presenceKey(userID), b, ttl).Err(); err != nil {
		return errors.Wrap(err, "presence set")
	}
	if s.pub != nil {
		s.pub.PublishPresence(PresenceEvent{
			UserID:   userID,
			Online:   online,
			LastSeen: now.UnixMilli(),
			Gateway:  s.conf.GatewayID,
		})
	}
	return nil
}

// Get returns the record; absence is Known=false, not an error.
func (s *PresenceStore) Get(ctx context.Context, userID string) (PresenceRecord, error) {
	val, err := redisx.Get().Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return PresenceRecord{UserID: userID}, nil
	}
	if err != nil {
		return PresenceRecord{UserID: userID}, errors.Wrap(err, "presence get")
	}
	return decodePresence(userID, val), nil
}

// GetMany resolves a batch with one MGET; missing users come back Known=false.
func (s *PresenceStore) GetMany(ctx context.Context, userIDs []string) (map[string]PresenceRecord, error) {
	out := make(map[string]PresenceRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, u := range userIDs {
		keys[i] = presenceKey(u)
	}
	vals, err := redisx.Get().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "presence mget")
	}
	for i, v := range vals {
		uid := userIDs[i]
		str, ok := v.(string)
		if !ok {
			out[uid] = PresenceRecord{UserID: uid}
			continue
		}
		out[uid] = decodePresence(uid, str)
	}
	return out, nil
}

func decodePresence(userID, raw string) PresenceRecord {
	var v presenceValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return PresenceRecord{UserID: userID}
	}
	return PresenceRecord{
		UserID:   userID,
		Online:   v.Online,
		LastSeen: time.UnixMilli(v.LastSeen),
		Known:    true,
	}
}
