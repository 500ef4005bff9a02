package api

import (
	"net/http"
	"strings"

	midsec "PBoard/middleware/security"
	"PBoard/module/board/model"
	"PBoard/tools/errs"

	"github.com/gin-gonic/gin"
)

// loadProject resolves :id and checks the caller's access. It writes the
// error response itself and reports ok=false on failure.
func (h *Handler) loadProject(c *gin.Context, ownerOnly bool) (*model.Project, bool) {
	id, err := paramID(c, "id")
	if err != nil {
		h.fail(c, err, "Invalid project id")
		return nil, false
	}
	return h.projectFor(c, id, ownerOnly)
}

func (h *Handler) projectFor(c *gin.Context, projectID int64, ownerOnly bool) (*model.Project, bool) {
	ctx := c.Request.Context()
	p, err := h.store.GetProject(ctx, projectID)
	if err != nil {
		h.fail(c, err, "Not found")
		return nil, false
	}

	uid := midsec.UserID(c)
	if ownerOnly {
		if p.Owner != uid {
			h.fail(c, errs.ErrForbidden.WrapMsg("owner only"), "Only the owner can do that")
			return nil, false
		}
		return p, true
	}

	ok, err := h.store.IsProjectCollaborator(ctx, uid, p.ID)
	if err != nil {
		h.fail(c, err, "")
		return nil, false
	}
	if !ok {
		h.fail(c, errs.ErrForbidden.WrapMsg("not a collaborator"), "Forbidden")
		return nil, false
	}
	return p, true
}

func (h *Handler) createProject(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		h.badRequest(c, "Missing name")
		return
	}

	p, err := h.store.CreateProject(c.Request.Context(), strings.TrimSpace(req.Name), midsec.UserID(c))
	if err != nil {
		h.fail(c, err, "")
		return
	}
	h.events.ProjectCreated(p)
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listProjects(c *gin.Context) {
	ps, err := h.store.ListProjectsForUser(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (h *Handler) getProject(c *gin.Context) {
	p, ok := h.loadProject(c, false)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tasks, err := h.store.ListTasks(ctx, p.ID)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	colls, err := h.store.ListCollaborators(ctx, p.ID)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project":       p,
		"tasks":         model.GroupTasks(tasks),
		"collaborators": colls,
	})
}

func (h *Handler) finishProject(c *gin.Context) {
	p, ok := h.loadProject(c, false)
	if !ok {
		return
	}
	done, err := h.store.FinishProject(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err, "Not found")
		return
	}
	h.events.ProjectFinished(done)
	c.JSON(http.StatusOK, done)
}

// projectPresence lists the collaborators with a live connection.
func (h *Handler) projectPresence(c *gin.Context) {
	p, ok := h.loadProject(c, false)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	colls, err := h.store.ListCollaborators(ctx, p.ID)
	if err != nil {
		h.fail(c, err, "")
		return
	}

	online := []int64{}
	if h.presence != nil {
		for _, co := range colls {
			yes, err := h.presence.IsOnline(ctx, co.UserID)
			if err != nil {
				h.log.Sugar().Warnw("presence lookup", "user_id", co.UserID, "error", err)
				continue
			}
			if yes {
				online = append(online, co.UserID)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"project_id": p.ID, "online": online})
}
