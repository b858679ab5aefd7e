package chat

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"chatsync/module/device"
	"chatsync/module/syncer"
	"chatsync/store"
	"chatsync/tools/errs"
	"chatsync/tools/security"

	"github.com/gin-gonic/gin"
)

// HTTP surface for state queries and maintenance. Live traffic rides
// the websocket; these endpoints serve clients that only need a
// point-in-time answer, plus operator sweeps.
func (s *Server) mountAPI(r *gin.Engine) {
	api := r.Group("/api", s.authMiddleware())
	api.GET("/presence", s.getPresence)
	api.GET("/conversations/:id/typing", s.getTyping)
	api.GET("/messages/:id/receipts", s.getReceipts)
	api.GET("/devices", s.getDevices)
	api.DELETE("/devices/:device_id", s.invalidateDevice)
	api.POST("/push-token", s.savePushToken)
	api.POST("/conflicts/resolve", s.resolveConflicts)

	admin := r.Group("/admin", s.authMiddleware())
	admin.POST("/sessions/cleanup", s.cleanupSessions)
	admin.POST("/queue/cleanup-failed", s.cleanupFailedQueue)
	admin.POST("/queue/cleanup-delivered", s.cleanupDeliveredQueue)
}

// authMiddleware validates the bearer token and stashes the caller
// identity on the request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.CodeNotAuthorized, "msg": "missing bearer token"})
			return
		}
		userID, deviceID, err := security.Verify(s.deps.Auth, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.CodeTokenExpired, "msg": "invalid token"})
			return
		}
		c.Set("user_id", userID)
		c.Set("device_id", deviceID)
		c.Next()
	}
}

func (s *Server) getPresence(c *gin.Context) {
	ids := strings.Split(c.Query("ids"), ",")
	clean := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		c.JSON(http.StatusOK, gin.H{"presence": gin.H{}})
		return
	}
	records, err := s.deps.Presence.GetMany(c.Request.Context(), clean)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": records})
}

func (s *Server) getTyping(c *gin.Context) {
	convID := c.Param("id")
	userID := c.GetString("user_id")
	member, err := s.deps.Rel.IsParticipant(c.Request.Context(), convID, userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "lookup failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"code": errs.CodeNotAuthorized, "msg": "not a participant"})
		return
	}
	users, err := s.deps.Typing.ListTyping(c.Request.Context(), convID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "typing unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": convID, "typing": users})
}

func (s *Server) getReceipts(c *gin.Context) {
	msgID := c.Param("id")
	allowed, err := canViewReceipts(c.Request.Context(), s.deps.Rel, c.GetString("user_id"), msgID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "lookup failed"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"code": errs.CodeNotAuthorized, "msg": "not the sender or a participant"})
		return
	}
	status, err := s.deps.Receipts.StatusOf(c.Request.Context(), msgID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "receipts unavailable"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// canViewReceipts restricts receipt state to the message sender and
// conversation participants. Unknown messages answer false rather than
// leaking whether the id exists.
func canViewReceipts(ctx context.Context, rel store.Relational, userID, messageID string) (bool, error) {
	senders, err := rel.SendersOf(ctx, []string{messageID})
	if err != nil {
		return false, err
	}
	for _, sender := range senders {
		if sender == userID {
			return true, nil
		}
	}
	convID, err := rel.ConversationOf(ctx, messageID)
	if err != nil {
		return false, err
	}
	if convID == "" {
		return false, nil
	}
	return rel.IsParticipant(ctx, convID, userID)
}

func (s *Server) getDevices(c *gin.Context) {
	sessions, err := s.deps.Sync.GetActiveDeviceSessions(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "devices unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": sessions})
}

// invalidateDevice is the explicit-logout path: the durable session is
// soft-invalidated, not deleted.
func (s *Server) invalidateDevice(c *gin.Context) {
	if err := s.deps.Sync.InvalidateDeviceSession(c.Request.Context(), c.GetString("user_id"), c.Param("device_id")); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "invalidate failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) savePushToken(c *gin.Context) {
	var body struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeMalformedInput, "msg": "token required"})
		return
	}
	tok := device.PushToken{
		Token:    body.Token,
		UserID:   c.GetString("user_id"),
		DeviceID: c.GetString("device_id"),
		Active:   true,
	}
	if err := s.deps.Devices.SaveToken(c.Request.Context(), tok); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "token save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) resolveConflicts(c *gin.Context) {
	var body struct {
		Conflicts []syncer.Conflict `json:"conflicts"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeMalformedInput, "msg": "bad conflict list"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolutions": s.deps.Sync.ResolveConflicts(body.Conflicts)})
}

func (s *Server) cleanupSessions(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "90"))
	n, err := s.deps.Sync.CleanupOldSessions(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) cleanupFailedQueue(c *gin.Context) {
	n, err := s.deps.Offline.CleanupFailed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) cleanupDeliveredQueue(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	n, err := s.deps.Offline.CleanupDelivered(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeTransientInfra, "msg": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}
