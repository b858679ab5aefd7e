package offline

import (
	"context"
	"time"

	"chatsync/logger"
	"chatsync/tools/safe"
)

// Emitter pushes raw bytes at a specific device; false means no live
// session accepted them.
type Emitter interface {
	EmitRawToDevice(userID, deviceID string, raw []byte) bool
}

// Sweeper retries due queue entries in the background. Only devices
// with a live session get a redelivery attempt; entries for devices
// still offline stay untouched until the next sweep, so attempts are
// only ever spent on real delivery tries. Exhausted entries are left
// in the store in their terminal state; removal is the explicit
// maintenance sweep's job.
type Sweeper struct {
	store    Store
	emitter  Emitter
	liveness Liveness
	interval time.Duration
	batch    int
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewSweeper(store Store, emitter Emitter, liveness Liveness, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 500
	}
	return &Sweeper{
		store:    store,
		emitter:  emitter,
		liveness: liveness,
		interval: interval,
		batch:    batch,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	safe.Go(func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepOnce(context.Background())
			case <-s.stopCh:
				return
			}
		}
	})
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// SweepOnce runs a single retry pass and returns the delivered count.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := time.Now()
	due, err := s.store.Due(ctx, now, s.batch)
	if err != nil {
		logger.Errorf("[offline] sweep query failed err=%v", err)
		return 0
	}
	delivered := 0
	for _, e := range due {
		if !s.liveness.DeviceConnected(e.UserID, e.DeviceID) {
			// still offline: not an attempt, wait for the next sweep
			continue
		}
		if s.emitter.EmitRawToDevice(e.UserID, e.DeviceID, e.Payload) {
			if err := s.store.MarkDelivered(ctx, e.ID, now); err != nil {
				logger.Warnf("[offline] mark delivered failed id=%s err=%v", e.ID, err)
				continue
			}
			delivered++
			continue
		}
		attempts := e.Attempts + 1
		next := now.Add(NextBackoff(attempts))
		if err := s.store.Reschedule(ctx, e.ID, attempts, next); err != nil {
			logger.Warnf("[offline] reschedule failed id=%s err=%v", e.ID, err)
		}
	}
	return delivered
}
