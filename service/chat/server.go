package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"chatsync/logger"
	"chatsync/module/device"
	"chatsync/module/notify"
	"chatsync/module/offline"
	"chatsync/module/syncer"
	"chatsync/service/events"
	"chatsync/service/storage"
	"chatsync/store"
	"chatsync/tools/errs"
	"chatsync/tools/ids"
	"chatsync/tools/safe"
	"chatsync/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	authGrace    = 10 * time.Second // handshake must complete within this
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second // < pongWait
	maxFrameSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // auth happens on the first frame
}

// Deps carries everything the transport layer dispatches into.
type Deps struct {
	Registry *Registry
	Presence *storage.PresenceStore
	Typing   *storage.TypingTracker
	Receipts *storage.ReceiptTracker
	Rel      store.Relational
	Devices  device.Store
	Offline  *offline.Queue
	Notify   *notify.Gateway
	Sync     *syncer.Coordinator
	Bus      *events.Bus
	Auth     security.Options
}

// Server owns the websocket endpoint: one authenticated connection per
// device, an auth-first handshake, then per-frame dispatch. Bad frames
// are rejected per-frame; nothing a client sends can take the process
// down.
type Server struct {
	deps Deps
	http *http.Server
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

func (s *Server) Run(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/ws", s.handleWS)
	s.mountAPI(r)

	if err := s.wireBus(); err != nil {
		return err
	}

	s.http = &http.Server{Addr: addr, Handler: r}
	logger.Infof("[server] listening on %s", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Registry.Close()
	if s.http != nil {
		return s.http.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[server] upgrade failed: %v", err)
		return
	}
	safe.Go(func() { s.serveConn(ws) })
}

func (s *Server) serveConn(ws *websocket.Conn) {
	ws.SetReadLimit(maxFrameSize)

	sess, ok := s.handshake(ws)
	if !ok {
		_ = ws.Close()
		return
	}

	safe.Go(func() { s.writePump(sess, ws) })

	ctx := context.Background()

	// replay anything queued while this device was away
	if n, err := s.deps.Offline.Drain(ctx, sess.UserID, sess.DeviceID, func(payload []byte) bool {
		select {
		case sess.send <- payload:
			return true
		default:
			return false
		}
	}); err != nil {
		logger.Warnf("[server] offline drain degraded user=%s device=%s err=%v", sess.UserID, sess.DeviceID, err)
	} else if n > 0 {
		s.reply(sess, EventOfflineReplayed, map[string]any{"count": n})
	}

	s.readLoop(ctx, sess, ws)
	s.disconnect(ctx, sess)
}

// handshake enforces auth as the first frame within the grace window.
func (s *Server) handshake(ws *websocket.Conn) (*Session, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(authGrace))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, false
	}
	t, raw, err := ParseFrame(data)
	if err != nil || t != EvAuth {
		s.writeDirect(ws, EventAuthFailed, map[string]any{"reason": "auth frame required"})
		return nil, false
	}
	var p AuthPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.writeDirect(ws, EventAuthFailed, map[string]any{"reason": "bad auth payload"})
		return nil, false
	}
	userID, deviceID, err := security.Verify(s.deps.Auth, p.Token)
	if err != nil {
		s.writeDirect(ws, EventAuthFailed, map[string]any{"reason": "invalid token"})
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.deps.Sync.RegisterDeviceSession(ctx, userID, deviceID, p.Platform); err != nil {
		logger.Errorf("[server] device registration failed user=%s err=%v", userID, err)
		s.writeDirect(ws, EventAuthFailed, map[string]any{"reason": "registration failed"})
		return nil, false
	}

	sess, _ := s.deps.Registry.AddSession(ctx, userID, deviceID, ids.GenerateString(), ws)
	s.reply(sess, EventAuthOK, map[string]any{
		"session_id": sess.ID,
		"user_id":    userID,
		"device_id":  deviceID,
	})
	logger.Infof("[server] session up user=%s device=%s sid=%s", userID, deviceID, sess.ID)
	return sess, true
}

func (s *Server) readLoop(ctx context.Context, sess *Session, ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		t, raw, err := ParseFrame(data)
		if err != nil {
			s.reply(sess, EventError, map[string]any{"code": errs.CodeOf(err), "msg": "bad frame"})
			continue
		}
		s.dispatch(ctx, sess, t, raw)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *Session, t EventType, raw json.RawMessage) {
	switch t {
	case EvPing:
		s.reply(sess, EventPong, nil)
	case EvSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" || p.ConversationID == "" {
			s.reply(sess, EventError, map[string]any{"code": errs.CodeMalformedInput, "msg": "bad send-message payload"})
			return
		}
		s.handleSendMessage(ctx, sess, p)
	case EvMarkRead:
		var p MarkReadPayload
		if err := json.Unmarshal(raw, &p); err != nil || len(p.MessageIDs) == 0 {
			return // empty ID list is a no-op, not an error
		}
		s.deps.Sync.SyncReadReceipts(ctx, sess.UserID, p.MessageIDs, sess.DeviceID)
	case EvTypingStart, EvTypingStop:
		var p TypingPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
			return
		}
		s.handleTyping(ctx, sess, p.ConversationID, t == EvTypingStart)
	case EvSyncRequest:
		var p SyncRequestPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		s.handleSync(ctx, sess, p)
	case EvAuth:
		// already authenticated; ignore
	}
}

func (s *Server) handleSendMessage(ctx context.Context, sess *Session, p SendMessagePayload) {
	member, err := s.deps.Rel.IsParticipant(ctx, p.ConversationID, sess.UserID)
	if err != nil {
		s.reply(sess, EventError, map[string]any{"code": errs.CodeTransientInfra, "msg": "send failed"})
		return
	}
	if !member {
		s.reply(sess, EventError, map[string]any{"code": errs.CodeNotAuthorized, "msg": "not a participant"})
		return
	}

	s.deps.Registry.JoinRoom(p.ConversationID, sess)

	participants, err := s.deps.Rel.ParticipantsOf(ctx, p.ConversationID)
	if err != nil {
		s.reply(sess, EventError, map[string]any{"code": errs.CodeTransientInfra, "msg": "send failed"})
		return
	}

	out := map[string]any{
		"message_id":      p.MessageID,
		"conversation_id": p.ConversationID,
		"sender_id":       sess.UserID,
		"sender_name":     p.SenderName,
		"content":         p.Content,
		"is_group":        p.IsGroup,
		"sent_at":         time.Now().UnixMilli(),
	}
	frame := EncodeEvent(EventNewMessage, out)

	mentioned := make(map[string]bool, len(p.Mentions))
	for _, m := range p.Mentions {
		mentioned[m] = true
	}

	for _, recipient := range participants {
		if recipient == sess.UserID {
			continue
		}
		if s.deps.Registry.HasSession(recipient) {
			s.deps.Registry.EmitToUser(recipient, EventNewMessage, out)
			if err := s.deps.Receipts.MarkDelivered(ctx, p.MessageID, recipient); err != nil {
				logger.Warnf("[server] mark delivered degraded msg=%s user=%s err=%v", p.MessageID, recipient, err)
			}
		}
		// stale or offline devices get the store-and-forward copy
		s.deps.Offline.QueueForOfflineDevices(ctx, recipient, "", frame)

		kind := notify.KindMessage
		if mentioned[recipient] {
			kind = notify.KindMention
		}
		s.deps.Notify.QueueNotification(ctx, recipient, notify.Data{
			Kind:             kind,
			ConversationID:   p.ConversationID,
			SenderID:         sess.UserID,
			SenderName:       p.SenderName,
			ConversationName: p.ConversationName,
			MessageContent:   p.Content,
			IsGroup:          p.IsGroup,
		})
	}
}

func (s *Server) handleTyping(ctx context.Context, sess *Session, convID string, typing bool) {
	s.deps.Registry.JoinRoom(convID, sess)
	var err error
	if typing {
		err = s.deps.Typing.SetTyping(ctx, sess.UserID, convID)
	} else {
		err = s.deps.Typing.ClearTyping(ctx, sess.UserID, convID)
	}
	if err != nil {
		logger.Warnf("[server] typing flag degraded user=%s conv=%s err=%v", sess.UserID, convID, err)
	}
	s.deps.Registry.EmitToRoom(convID, sess.UserID, EventTyping, map[string]any{
		"conversation_id": convID,
		"user_id":         sess.UserID,
		"is_typing":       typing,
	})
}

func (s *Server) handleSync(ctx context.Context, sess *Session, p SyncRequestPayload) {
	var last time.Time
	if p.LastSyncMS > 0 {
		last = time.UnixMilli(p.LastSyncMS)
	}
	delta, err := s.deps.Sync.SyncUserData(ctx, sess.UserID, sess.DeviceID, last)
	if err != nil {
		s.reply(sess, EventError, map[string]any{"code": errs.CodeOf(err), "msg": "sync failed"})
		return
	}
	s.reply(sess, EventSyncDelta, delta)
}

func (s *Server) disconnect(ctx context.Context, sess *Session) {
	last, joined := s.deps.Registry.RemoveSession(ctx, sess.UserID, sess.ID)

	if err := s.deps.Typing.ClearAllFor(ctx, sess.UserID, joined); err != nil {
		logger.Warnf("[server] typing cleanup degraded user=%s err=%v", sess.UserID, err)
	}
	for _, convID := range joined {
		s.deps.Registry.EmitToRoom(convID, sess.UserID, EventTyping, map[string]any{
			"conversation_id": convID,
			"user_id":         sess.UserID,
			"is_typing":       false,
		})
	}

	if err := s.deps.Devices.TouchActivity(ctx, sess.UserID, sess.DeviceID, time.Now()); err != nil {
		logger.Warnf("[server] activity touch degraded user=%s device=%s err=%v", sess.UserID, sess.DeviceID, err)
	}
	logger.Infof("[server] session down user=%s sid=%s last=%v", sess.UserID, sess.ID, last)
}

// writePump is the single writer for a connection; everything outbound
// goes through the session queue.
func (s *Server) writePump(sess *Session, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sess.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) reply(sess *Session, event string, payload any) {
	select {
	case sess.send <- EncodeEvent(event, payload):
	default:
		logger.Warnf("[server] send queue full, dropping %s for user=%s", event, sess.UserID)
	}
}

// writeDirect is for pre-session writes (handshake rejections).
func (s *Server) writeDirect(ws *websocket.Conn, event string, payload any) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.TextMessage, EncodeEvent(event, payload))
}

// wireBus re-emits state changes heard from sibling gateway nodes to
// this node's local sessions.
func (s *Server) wireBus() error {
	if s.deps.Bus == nil {
		return nil
	}
	ctx := context.Background()
	if err := s.deps.Bus.OnPresence(func(ev storage.PresenceEvent) {
		event := EventUserOffline
		if ev.Online {
			event = EventUserOnline
		}
		contacts, err := s.deps.Rel.ContactsOf(ctx, ev.UserID)
		if err != nil {
			logger.Warnf("[server] bus presence relay degraded user=%s err=%v", ev.UserID, err)
			return
		}
		s.deps.Registry.EmitToUsers(contacts, event, map[string]any{
			"user_id":   ev.UserID,
			"last_seen": ev.LastSeen,
		})
	}); err != nil {
		return err
	}
	if err := s.deps.Bus.OnReceipts(func(ev events.ReceiptEvent) {
		payload := map[string]any{"reader_id": ev.ReaderID, "message_ids": ev.MessageIDs}
		s.deps.Registry.EmitToUserExceptDevice(ev.ReaderID, ev.DeviceID, EventReceiptsSynced, payload)
		senders, err := s.deps.Rel.SendersOf(ctx, ev.MessageIDs)
		if err != nil {
			logger.Warnf("[server] bus receipt relay degraded err=%v", err)
			return
		}
		s.deps.Registry.EmitToUsers(senders, EventMessageRead, payload)
	}); err != nil {
		return err
	}
	return s.deps.Bus.OnProfile(func(ev events.ProfileEvent) {
		s.deps.Registry.EmitToUser(ev.UserID, EventProfileUpdated, map[string]any{
			"user_id": ev.UserID,
			"updates": ev.Updates,
		})
	})
}
