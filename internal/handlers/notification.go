package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quorum/internal/apierror"
	"quorum/internal/middleware"
	"quorum/internal/services"
)

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

type markReadRequest struct {
	MarkAll bool   `json:"markAll"`
	IDs     []uint `json:"ids"`
}

func (h *NotificationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.CurrentUserID(c)

	items, err := h.notifications.List(ctx, userID, queryInt(c, "limit", 50))
	if err != nil {
		apierror.Write(c, err)
		return
	}
	unread, err := h.notifications.UnreadCount(ctx, userID)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "unreadCount": unread})
}

// MarkRead handles PUT /api/notifications with {"markAll": true} or {"ids": [...]}.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if !decodeStrict(c, &req) {
		return
	}
	if req.MarkAll && len(req.IDs) > 0 {
		apierror.BadRequest(c, "use either markAll or ids")
		return
	}

	ctx := c.Request.Context()
	userID := middleware.CurrentUserID(c)

	var (
		n   int64
		err error
	)
	if req.MarkAll {
		n, err = h.notifications.MarkAllRead(ctx, userID)
	} else {
		n, err = h.notifications.MarkRead(ctx, userID, req.IDs)
	}
	if err != nil {
		apierror.Write(c, err)
		return
	}
	unread, err := h.notifications.UnreadCount(ctx, userID)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n, "unreadCount": unread})
}
