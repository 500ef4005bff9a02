package api

import (
	"net/http"
	"strings"

	midsec "PBoard/middleware/security"
	"PBoard/module/board/model"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createTask(c *gin.Context) {
	p, ok := h.loadProject(c, false)
	if !ok {
		return
	}
	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Assignee    *string `json:"assignee"`
		Status      string  `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		h.badRequest(c, "Missing title")
		return
	}
	if req.Status != "" && !model.ValidStatus(req.Status) {
		h.badRequest(c, "Invalid status")
		return
	}

	t, err := h.store.CreateTask(c.Request.Context(), &model.Task{
		ProjectID:   p.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Assignee:    req.Assignee,
		Status:      req.Status,
	})
	if err != nil {
		h.fail(c, err, "")
		return
	}
	h.events.TaskCreated(t)
	c.JSON(http.StatusOK, t)
}

func (h *Handler) listTasks(c *gin.Context) {
	p, ok := h.loadProject(c, false)
	if !ok {
		return
	}
	tasks, err := h.store.ListTasks(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// loadTask resolves :id as a task the caller can see.
func (h *Handler) loadTask(c *gin.Context) (*model.Task, bool) {
	id, err := paramID(c, "id")
	if err != nil {
		h.fail(c, err, "Invalid task id")
		return nil, false
	}
	t, err := h.store.GetTask(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Not found")
		return nil, false
	}
	if _, ok := h.projectFor(c, t.ProjectID, false); !ok {
		return nil, false
	}
	return t, true
}

func (h *Handler) updateTask(c *gin.Context) {
	t, ok := h.loadTask(c)
	if !ok {
		return
	}
	var patch model.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, "Invalid body")
		return
	}
	if patch.Status != nil && !model.ValidStatus(*patch.Status) {
		h.badRequest(c, "Invalid status")
		return
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		h.badRequest(c, "Title cannot be empty")
		return
	}

	updated, err := h.store.UpdateTask(c.Request.Context(), t.ID, patch)
	if err != nil {
		h.fail(c, err, "Not found")
		return
	}
	h.events.TaskUpdated(updated)
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) createComment(c *gin.Context) {
	t, ok := h.loadTask(c)
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

	cm, err := h.store.CreateComment(c.Request.Context(), t.ID, midsec.Username(c), req.Body)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	h.events.CommentCreated(t.ProjectID, cm)
	c.JSON(http.StatusOK, cm)
}

func (h *Handler) listComments(c *gin.Context) {
	t, ok := h.loadTask(c)
	if !ok {
		return
	}
	cms, err := h.store.ListComments(c.Request.Context(), t.ID)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, cms)
}
