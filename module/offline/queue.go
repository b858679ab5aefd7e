package offline

import (
	"context"
	"time"

	"chatsync/logger"
	"chatsync/module/device"
	"chatsync/tools/errs"
)

// Liveness answers whether a device has a live connection right now.
type Liveness interface {
	DeviceConnected(userID, deviceID string) bool
}

type Config struct {
	MaxAttempts int
	// FreshnessWindow treats a connected-but-idle device as offline:
	// no activity inside the window means the payload is also queued,
	// so a wedged connection cannot swallow a message. Tunable; replay
	// is idempotent on the client by message id.
	FreshnessWindow time.Duration
}

// Queue decides which devices need store-and-forward and replays the
// backlog when they return.
type Queue struct {
	store    Store
	devices  device.Store
	liveness Liveness
	conf     Config
}

func NewQueue(store Store, devices device.Store, liveness Liveness, conf Config) *Queue {
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = 3
	}
	if conf.FreshnessWindow <= 0 {
		conf.FreshnessWindow = 5 * time.Minute
	}
	return &Queue{store: store, devices: devices, liveness: liveness, conf: conf}
}

// Enqueue stores one payload for one device. Queueing is best-effort:
// a store failure is logged and surfaced as a degraded outcome, never
// as a delivery error to the sender.
func (q *Queue) Enqueue(ctx context.Context, userID, deviceID string, payload []byte) errs.Outcome {
	now := time.Now()
	e := &Entry{
		UserID:      userID,
		DeviceID:    deviceID,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: q.conf.MaxAttempts,
		QueuedAt:    now,
		NextRetryAt: now,
	}
	if err := q.store.Insert(ctx, e); err != nil {
		logger.Errorf("[offline] enqueue failed user=%s device=%s err=%v", userID, deviceID, err)
		return errs.OutcomeDegraded
	}
	return errs.OutcomeOK
}

// QueueForOfflineDevices fans a payload into the queue for every
// registered device of the user that is not connected, or whose last
// activity falls outside the freshness window. The sender's own device
// is skipped.
func (q *Queue) QueueForOfflineDevices(ctx context.Context, userID, excludeDeviceID string, payload []byte) errs.Outcome {
	sessions, err := q.devices.ActiveSessions(ctx, userID)
	if err != nil {
		logger.Errorf("[offline] device lookup failed user=%s err=%v", userID, err)
		return errs.OutcomeDegraded
	}
	outcome := errs.OutcomeOK
	cutoff := time.Now().Add(-q.conf.FreshnessWindow)
	for _, d := range sessions {
		if d.DeviceID == excludeDeviceID {
			continue
		}
		if q.liveness.DeviceConnected(userID, d.DeviceID) && d.LastActivity.After(cutoff) {
			continue
		}
		if q.Enqueue(ctx, userID, d.DeviceID, payload).Degraded() {
			outcome = errs.OutcomeDegraded
		}
	}
	return outcome
}

// CleanupFailed removes entries that exhausted their retry budget.
// Terminal entries are never deleted implicitly; this is the explicit
// maintenance sweep.
func (q *Queue) CleanupFailed(ctx context.Context) (int64, error) {
	return q.store.DeleteFailed(ctx)
}

// CleanupDelivered prunes delivered entries older than the given age.
func (q *Queue) CleanupDelivered(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = 7
	}
	return q.store.DeleteDelivered(ctx, time.Now().AddDate(0, 0, -olderThanDays))
}

// Drain replays the pending backlog for a device that just connected,
// in enqueue order. send pushes one payload to the live session and
// reports acceptance; entries are marked delivered only after the
// session accepted them, so a crash mid-drain re-replays rather than
// drops. Returns how many entries were delivered.
func (q *Queue) Drain(ctx context.Context, userID, deviceID string, send func(payload []byte) bool) (int, error) {
	pending, err := q.store.Pending(ctx, userID, deviceID)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, e := range pending {
		if !send(e.Payload) {
			break
		}
		if err := q.store.MarkDelivered(ctx, e.ID, time.Now()); err != nil {
			logger.Warnf("[offline] mark delivered failed id=%s err=%v", e.ID, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}
