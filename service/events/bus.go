package events

import (
	"encoding/json"
	"time"

	"chatsync/logger"
	"chatsync/service/storage"

	"github.com/nats-io/nats.go"
)

// Subjects carried on the inter-gateway broadcast channel. Each gateway
// node publishes its local state changes and re-emits what it hears to
// its own sessions, so a horizontally scaled deployment converges.
const (
	SubjectPresenceChanged = "im.presence.changed"
	SubjectReceiptSynced   = "im.receipt.synced"
	SubjectProfileUpdated  = "im.profile.updated"
)

type ReceiptEvent struct {
	ReaderID   string   `json:"reader_id"`
	DeviceID   string   `json:"device_id"`
	MessageIDs []string `json:"message_ids"`
	Gateway    string   `json:"gateway"`
}

type ProfileEvent struct {
	UserID  string         `json:"user_id"`
	Updates map[string]any `json:"updates"`
	Gateway string         `json:"gateway"`
}

type Config struct {
	URL       string
	GatewayID string
}

// Bus is the NATS-backed broadcast facade. Publishing is best-effort:
// a broker outage degrades to single-node behavior, it never surfaces
// into the send path.
type Bus struct {
	conf Config
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewBus(conf Config) (*Bus, error) {
	nc, err := nats.Connect(conf.URL,
		nats.Name("chatsync-"+conf.GatewayID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{conf: conf, nc: nc}, nil
}

func (b *Bus) Close() {
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}

func (b *Bus) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("[events] marshal %s: %v", subject, err)
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		logger.Warnf("[events] publish %s degraded: %v", subject, err)
	}
}

// PublishPresence satisfies storage.PresencePublisher.
func (b *Bus) PublishPresence(ev storage.PresenceEvent) {
	ev.Gateway = b.conf.GatewayID
	b.publish(SubjectPresenceChanged, ev)
}

func (b *Bus) PublishReceipts(ev ReceiptEvent) {
	ev.Gateway = b.conf.GatewayID
	b.publish(SubjectReceiptSynced, ev)
}

func (b *Bus) PublishProfile(ev ProfileEvent) {
	ev.Gateway = b.conf.GatewayID
	b.publish(SubjectProfileUpdated, ev)
}

// OnPresence subscribes to presence changes from other nodes; events
// originating from this gateway are filtered out.
func (b *Bus) OnPresence(h func(storage.PresenceEvent)) error {
	return b.subscribe(SubjectPresenceChanged, func(data []byte) {
		var ev storage.PresenceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Gateway == b.conf.GatewayID {
			return
		}
		h(ev)
	})
}

func (b *Bus) OnReceipts(h func(ReceiptEvent)) error {
	return b.subscribe(SubjectReceiptSynced, func(data []byte) {
		var ev ReceiptEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Gateway == b.conf.GatewayID {
			return
		}
		h(ev)
	})
}

func (b *Bus) OnProfile(h func(ProfileEvent)) error {
	return b.subscribe(SubjectProfileUpdated, func(data []byte) {
		var ev ProfileEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Gateway == b.conf.GatewayID {
			return
		}
		h(ev)
	})
}

func (b *Bus) subscribe(subject string, h func([]byte)) error {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return err
	}
	b.subs = append(b.subs, sub)
	return nil
}
