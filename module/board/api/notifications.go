package api

import (
	"net/http"

	midsec "PBoard/middleware/security"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listNotifications(c *gin.Context) {
	notes, err := h.store.ListNotifications(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (h *Handler) readNotification(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.fail(c, err, "Invalid notification id")
		return
	}
	if err := h.store.MarkNotificationRead(c.Request.Context(), id, midsec.UserID(c)); err != nil {
		h.fail(c, err, "Not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
