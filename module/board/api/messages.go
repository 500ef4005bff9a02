package api

import (
	"net/http"
	"strings"

	midsec "PBoard/middleware/security"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createMessage(c *gin.Context) {
	p, ok := h.loadProject(c, false)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		h.badRequest(c, "Missing body")
		return
	}

	m, err := h.store.CreateMessage(c.Request.Context(), p.ID, midsec.Username(c), req.Body)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	h.events.MessageCreated(m)
	c.JSON(http.StatusOK, m)
}

func (h *Handler) listMessages(c *gin.Context) {
	p, ok := h.loadProject(c, false)
	if !ok {
		return
	}
	msgs, err := h.store.ListMessages(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, msgs)
}
