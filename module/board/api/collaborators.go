package api

import (
	"errors"
	"net/http"
	"strings"

	"PBoard/module/board/events"
	"PBoard/module/board/model"
	"PBoard/tools/errs"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listCollaborators(c *gin.Context) {
	p, ok := h.loadProject(c, false)
	if !ok {
		return
	}
	colls, err := h.store.ListCollaborators(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, colls)
}

func (h *Handler) addCollaborator(c *gin.Context) {
	p, ok := h.loadProject(c, true)
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		h.badRequest(c, "Missing username")
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = model.RoleMember
	}
	if role == model.RoleOwner {
		h.badRequest(c, "Invalid role")
		return
	}

	ctx := c.Request.Context()
	u, err := h.store.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		h.fail(c, err, "User not found")
		return
	}

	note := events.NoteFor(events.KindCollaboratorAdded, &model.Collaborator{ProjectID: p.ID, UserID: u.ID, Role: role})
	coll, notif, err := h.store.AddCollaborator(ctx, p.ID, u.ID, role, note)
	if err != nil {
		if errors.Is(err, errs.ErrRecordExist) {
			h.fail(c, err, "Already collaborator")
			return
		}
		h.fail(c, err, "")
		return
	}
	h.events.CollaboratorAdded(coll, notif)
	c.JSON(http.StatusOK, coll)
}

func (h *Handler) updateCollaborator(c *gin.Context) {
	p, ok := h.loadProject(c, true)
	if !ok {
		return
	}
	uid, err := paramID(c, "userId")
	if err != nil {
		h.fail(c, err, "Invalid user id")
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Role) == "" {
		h.badRequest(c, "Missing role")
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == model.RoleOwner || uid == p.Owner {
		h.badRequest(c, "The owner's role cannot change")
		return
	}

	note := events.NoteFor(events.KindCollaboratorUpdated, &model.Collaborator{ProjectID: p.ID, UserID: uid, Role: role})
	coll, notif, err := h.store.UpdateCollaboratorRole(c.Request.Context(), p.ID, uid, role, note)
	if err != nil {
		h.fail(c, err, "Collaborator not found")
		return
	}
	h.events.CollaboratorUpdated(coll, notif)
	c.JSON(http.StatusOK, coll)
}

func (h *Handler) removeCollaborator(c *gin.Context) {
	p, ok := h.loadProject(c, true)
	if !ok {
		return
	}
	uid, err := paramID(c, "userId")
	if err != nil {
		h.fail(c, err, "Invalid user id")
		return
	}
	if uid == p.Owner {
		h.badRequest(c, "The owner cannot be removed")
		return
	}

	note := events.NoteFor(events.KindCollaboratorRemoved, &model.Collaborator{ProjectID: p.ID, UserID: uid})
	coll, notif, err := h.store.RemoveCollaborator(c.Request.Context(), p.ID, uid, note)
	if err != nil {
		h.fail(c, err, "Collaborator not found")
		return
	}
	h.events.CollaboratorRemoved(coll, notif)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
