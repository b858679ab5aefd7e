package syncer

import (
	"context"
	"time"

	"chatsync/logger"
	"chatsync/module/device"
	"chatsync/service/events"
	"chatsync/store"
	"chatsync/tools/errs"
)

// Emitter is the slice of the connection registry the coordinator
// fans out through.
type Emitter interface {
	EmitToUser(userID, event string, payload any)
	EmitToUsers(userIDs []string, event string, payload any)
	EmitToUserExceptDevice(userID, excludeDeviceID, event string, payload any)
}

// Receipts persists per-message read state.
type Receipts interface {
	MarkRead(ctx context.Context, messageID, userID string) error
}

// BroadcastBus relays receipt/profile changes to sibling gateway nodes.
type BroadcastBus interface {
	PublishReceipts(ev events.ReceiptEvent)
	PublishProfile(ev events.ProfileEvent)
}

type Config struct {
	PageSize      int
	FirstSyncSpan time.Duration
	RetentionDays int
}

// Coordinator keeps a user's devices convergent: durable device
// sessions, incremental deltas from each device's checkpoint, and
// fan-out of read-receipt/profile changes to sibling devices.
type Coordinator struct {
	devices  device.Store
	rel      store.Relational
	receipts Receipts
	emitter  Emitter
	bus      BroadcastBus
	conf     Config
}

func NewCoordinator(devices device.Store, rel store.Relational, receipts Receipts, emitter Emitter, bus BroadcastBus, conf Config) *Coordinator {
	if conf.PageSize <= 0 {
		conf.PageSize = 100
	}
	if conf.FirstSyncSpan <= 0 {
		conf.FirstSyncSpan = 30 * 24 * time.Hour
	}
	if conf.RetentionDays <= 0 {
		conf.RetentionDays = 90
	}
	return &Coordinator{devices: devices, rel: rel, receipts: receipts, emitter: emitter, bus: bus, conf: conf}
}

// RegisterDeviceSession upserts the durable record for a device; the
// same (user,device) registering twice refreshes, never duplicates.
func (c *Coordinator) RegisterDeviceSession(ctx context.Context, userID, deviceID, platform string) (*device.Session, error) {
	return c.devices.Upsert(ctx, userID, deviceID, platform)
}

func (c *Coordinator) GetActiveDeviceSessions(ctx context.Context, userID string) ([]*device.Session, error) {
	return c.devices.ActiveSessions(ctx, userID)
}

func (c *Coordinator) InvalidateDeviceSession(ctx context.Context, userID, deviceID string) error {
	return c.devices.Invalidate(ctx, userID, deviceID)
}

// Delta is one incremental sync page.
type Delta struct {
	Conversations []store.ConversationDelta `json:"conversations"`
	Messages      []store.MessageDelta      `json:"messages"`
	Receipts      []store.ReceiptDelta      `json:"receipts"`
	SyncedAt      int64                     `json:"synced_at"` // ms; the device's next checkpoint
	HasMore       bool                      `json:"has_more"`
}

// SyncUserData computes everything that changed for the user since the
// device's checkpoint. A zero lastSync is a first-time sync and gets a
// bounded recent snapshot instead of unbounded history. The checkpoint
// advances to now, not to the max timestamp observed, so clock skew
// between rows cannot open a gap.
func (c *Coordinator) SyncUserData(ctx context.Context, userID, deviceID string, lastSync time.Time) (*Delta, error) {
	now := time.Now()
	since := lastSync
	if since.IsZero() {
		since = now.Add(-c.conf.FirstSyncSpan)
	}

	// fetch one row past the page to learn whether more data exists
	probe := c.conf.PageSize + 1
	convs, err := c.rel.ConversationsUpdatedSince(ctx, userID, since, probe)
	if err != nil {
		return nil, errs.ErrTransientInfra.WrapMsg("sync conversations", "err", err)
	}
	msgs, err := c.rel.MessagesUpdatedSince(ctx, userID, since, probe)
	if err != nil {
		return nil, errs.ErrTransientInfra.WrapMsg("sync messages", "err", err)
	}
	rcpts, err := c.rel.ReceiptsUpdatedSince(ctx, userID, since, probe)
	if err != nil {
		return nil, errs.ErrTransientInfra.WrapMsg("sync receipts", "err", err)
	}

	d := &Delta{SyncedAt: now.UnixMilli()}
	d.Conversations, d.HasMore = capPage(convs, c.conf.PageSize, d.HasMore)
	d.Messages, d.HasMore = capPage(msgs, c.conf.PageSize, d.HasMore)
	d.Receipts, d.HasMore = capPage(rcpts, c.conf.PageSize, d.HasMore)

	if err := c.devices.TouchSync(ctx, userID, deviceID, now); err != nil {
		logger.Warnf("[sync] checkpoint advance degraded user=%s device=%s err=%v", userID, deviceID, err)
	}
	return d, nil
}

func capPage[T any](rows []T, page int, more bool) ([]T, bool) {
	if len(rows) > page {
		return rows[:page], true
	}
	return rows, more
}

// SyncReadReceipts persists read state and fans it out to two
// independent sets: the reader's sibling devices (read position moves)
// and the senders of the affected messages (read ticks update).
func (c *Coordinator) SyncReadReceipts(ctx context.Context, userID string, messageIDs []string, excludeDeviceID string) errs.Outcome {
	if len(messageIDs) == 0 {
		return errs.OutcomeOK
	}
	outcome := errs.OutcomeOK
	for _, id := range messageIDs {
		if err := c.receipts.MarkRead(ctx, id, userID); err != nil {
			logger.Warnf("[sync] mark read degraded msg=%s user=%s err=%v", id, userID, err)
			outcome = errs.OutcomeDegraded
		}
	}

	payload := map[string]any{"reader_id": userID, "message_ids": messageIDs}
	c.emitter.EmitToUserExceptDevice(userID, excludeDeviceID, "read-receipts-synced", payload)

	senders, err := c.rel.SendersOf(ctx, messageIDs)
	if err != nil {
		logger.Warnf("[sync] sender lookup degraded err=%v", err)
		outcome = errs.OutcomeDegraded
	} else {
		c.emitter.EmitToUsers(senders, "message-read", payload)
	}

	if c.bus != nil {
		c.bus.PublishReceipts(events.ReceiptEvent{
			ReaderID:   userID,
			DeviceID:   excludeDeviceID,
			MessageIDs: messageIDs,
		})
	}
	return outcome
}

// SyncProfileUpdate pushes profile changes to the user's sibling
// devices, and to unblocked contacts only when a visible field
// (display name or picture) changed; status-only edits stay private.
func (c *Coordinator) SyncProfileUpdate(ctx context.Context, userID string, updates map[string]any, excludeDeviceID string) errs.Outcome {
	if len(updates) == 0 {
		return errs.OutcomeOK
	}
	payload := map[string]any{"user_id": userID, "updates": updates}
	c.emitter.EmitToUserExceptDevice(userID, excludeDeviceID, "profile-updated", payload)

	outcome := errs.OutcomeOK
	if visibleToContacts(updates) {
		contacts, err := c.rel.UnblockedContactsOf(ctx, userID)
		if err != nil {
			logger.Warnf("[sync] contact lookup degraded user=%s err=%v", userID, err)
			outcome = errs.OutcomeDegraded
		} else {
			c.emitter.EmitToUsers(contacts, "profile-updated", payload)
		}
	}

	if c.bus != nil {
		c.bus.PublishProfile(events.ProfileEvent{UserID: userID, Updates: updates})
	}
	return outcome
}

func visibleToContacts(updates map[string]any) bool {
	_, name := updates["displayName"]
	_, pic := updates["profilePicture"]
	return name || pic
}

// CleanupOldSessions hard-deletes device sessions idle longer than
// daysOld and returns the count removed.
func (c *Coordinator) CleanupOldSessions(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = c.conf.RetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -daysOld)
	return c.devices.DeleteInactiveBefore(ctx, cutoff)
}
