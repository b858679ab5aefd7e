package notify

import (
	"context"
	"time"

	"chatsync/logger"
	"chatsync/store"
	"chatsync/tools/errs"
	"chatsync/tools/safe"
)

// MuteSource answers per-conversation mutes; nil means no mute row.
type MuteSource interface {
	ConversationMute(ctx context.Context, userID, convID string) (*store.Mute, error)
}

// Liveness is the connection registry's answer to "is this user
// reachable right now"; reachable users get live delivery, not a push.
type Liveness interface {
	HasSession(userID string) bool
}

// TokenSource is the slice of the device store the dispatcher needs.
type TokenSource interface {
	ActiveTokens(ctx context.Context, userID string) ([]string, error)
	DeactivateTokens(ctx context.Context, tokens []string) error
}

type Config struct {
	BatchSize  int
	BatchDelay time.Duration
}

// Gateway filters notifications through the recipient's preferences,
// mutes and quiet hours, then hands survivors to a batched dispatcher.
// Everything here is best-effort: a stalled provider or a bad
// preference row degrades to a log line, never into the send path.
type Gateway struct {
	prefs    PrefSource
	mutes    MuteSource
	tokens   TokenSource
	provider PushProvider
	liveness Liveness
	conf     Config

	pending chan dispatch
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type dispatch struct {
	userID  string
	content Content
	data    map[string]string
}

func NewGateway(prefs PrefSource, mutes MuteSource, tokens TokenSource, provider PushProvider, liveness Liveness, conf Config) *Gateway {
	if conf.BatchSize <= 0 {
		conf.BatchSize = 10
	}
	if conf.BatchDelay <= 0 {
		conf.BatchDelay = 5 * time.Second
	}
	return &Gateway{
		prefs:    prefs,
		mutes:    mutes,
		tokens:   tokens,
		provider: provider,
		liveness: liveness,
		conf:     conf,
		pending:  make(chan dispatch, 1024),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// QueueNotification decides whether the recipient should get a push
// for d and, if so, enqueues it for batched dispatch. The gates run in
// cost order: the in-memory liveness check first, then the preference
// row, and nothing else is queried once a gate says stop.
func (g *Gateway) QueueNotification(ctx context.Context, recipientID string, d Data) errs.Outcome {
	if g.liveness != nil && g.liveness.HasSession(recipientID) {
		// reachable right now: the message rides the live session,
		// a push on top would just double-notify
		return errs.OutcomeOK
	}

	pref, err := g.prefs.GetOrCreate(ctx, recipientID)
	if err != nil {
		logger.Errorf("[notify] preference load failed user=%s err=%v", recipientID, err)
		return errs.OutcomeDegraded
	}
	if !pref.PushEnabled || !g.categoryEnabled(pref, d) {
		return errs.OutcomeOK
	}

	now := time.Now()
	mute, err := g.mutes.ConversationMute(ctx, recipientID, d.ConversationID)
	if err != nil {
		// fail open: a broken mute lookup must not silence pushes
		logger.Warnf("[notify] mute lookup degraded user=%s conv=%s err=%v", recipientID, d.ConversationID, err)
	} else if mute.Active(now) {
		return errs.OutcomeOK
	}

	if InQuietHours(pref, now) {
		return errs.OutcomeOK
	}

	item := dispatch{
		userID:  recipientID,
		content: BuildContent(d),
		data: map[string]string{
			"type":            d.Kind.String(),
			"conversation_id": d.ConversationID,
			"sender_id":       d.SenderID,
		},
	}
	select {
	case g.pending <- item:
		return errs.OutcomeOK
	default:
		logger.Warnf("[notify] dispatch queue full, dropping push user=%s", recipientID)
		return errs.OutcomeDegraded
	}
}

func (g *Gateway) categoryEnabled(p *Preference, d Data) bool {
	switch {
	case d.Kind == KindMention:
		return p.MentionNotifications
	case d.IsGroup:
		return p.GroupNotifications
	default:
		return p.MessageNotifications
	}
}

// Start runs the batching loop: flush when the batch fills or when the
// delay window since the first queued entry elapses.
func (g *Gateway) Start() {
	safe.Go(func() {
		defer close(g.doneCh)
		var batch []dispatch
		var timer *time.Timer
		var fire <-chan time.Time
		flush := func() {
			if len(batch) > 0 {
				g.flush(batch)
				batch = nil
			}
			if timer != nil {
				timer.Stop()
				timer = nil
				fire = nil
			}
		}
		for {
			select {
			case item := <-g.pending:
				batch = append(batch, item)
				if len(batch) >= g.conf.BatchSize {
					flush()
					continue
				}
				if timer == nil {
					timer = time.NewTimer(g.conf.BatchDelay)
					fire = timer.C
				}
			case <-fire:
				timer = nil
				fire = nil
				flush()
			case <-g.stopCh:
				// drain what is already queued before exiting
				for {
					select {
					case item := <-g.pending:
						batch = append(batch, item)
					default:
						flush()
						return
					}
				}
			}
		}
	})
}

func (g *Gateway) Stop() {
	close(g.stopCh)
	<-g.doneCh
}

func (g *Gateway) flush(batch []dispatch) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, item := range batch {
		tokens, err := g.tokens.ActiveTokens(ctx, item.userID)
		if err != nil {
			logger.Errorf("[notify] token lookup failed user=%s err=%v", item.userID, err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		res, err := g.provider.SendMulticast(ctx, tokens, item.content, item.data)
		if err != nil {
			logger.Errorf("[notify] multicast failed user=%s err=%v", item.userID, err)
			continue
		}
		logger.Infof("[notify] push user=%s ok=%d fail=%d", item.userID, res.SuccessCount, res.FailureCount)
		if len(res.InvalidTokens) > 0 {
			if err := g.tokens.DeactivateTokens(ctx, res.InvalidTokens); err != nil {
				logger.Warnf("[notify] token deactivation failed err=%v", err)
			}
		}
	}
}
