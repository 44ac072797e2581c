package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fundwatch/internal/models"
	"fundwatch/internal/notify"
	"fundwatch/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type sendMessagePayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
	UserID  string `json:"userId"`
}

func (h *Handler) listMessages(c *gin.Context) {
	filter := store.NotificationFilter{
		RecipientID: userID(c),
		UnreadOnly:  c.Query("unreadOnly") == "true",
		Limit:       parseLimit(c.Query("limit")),
	}
	messages, err := h.deps.Notifications.ListNotifications(c.Request.Context(), filter)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	if messages == nil {
		messages = []models.Notification{}
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) unreadCount(c *gin.Context) {
	count, err := h.deps.Notifications.CountUnread(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// markRead only reaches the caller's own messages and broadcasts; any other
// id is reported as not found.
func (h *Handler) markRead(c *gin.Context) {
	if err := h.deps.Notifications.MarkNotificationRead(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) markAllRead(c *gin.Context) {
	n, err := h.deps.Notifications.MarkAllRead(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": n})
}

func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.deps.Notifications.DeleteNotification(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// sendMessage persists an operator message and pushes it to the target user,
// or to everyone when no userId is given.
func (h *Handler) sendMessage(c *gin.Context) {
	var payload sendMessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	kind := models.NotificationKind(payload.Type)
	if kind == "" {
		kind = models.KindSystem
	}
	n, err := h.deps.Emitter.Emit(c.Request.Context(), notify.Message{
		RecipientID: payload.UserID,
		Title:       payload.Title,
		Body:        payload.Content,
		Kind:        kind,
	})
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	h.audit(h.deps.Audit.LogMessageSent(c.Request.Context(), n, c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"message": "sent", "data": n})
}

func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultMessageLimit
	}
	if limit > maxMessageLimit {
		return maxMessageLimit
	}
	return limit
}
