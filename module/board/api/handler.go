package api

import (
	"context"
	"net/http"

	"PBoard/middleware"
	midsec "PBoard/middleware/security"
	"PBoard/module/board/events"
	"PBoard/module/board/store"
	"PBoard/tools/safe"
	tokens "PBoard/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PresenceReader answers whether a user has a live connection.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

type Deps struct {
	Store    store.Store
	Events   *events.Adapter
	Presence PresenceReader
	Tokens   tokens.Options
	Log      *zap.Logger
}

// Handler serves the REST write path. Every successful mutation is handed
// to the event adapter after it is committed.
type Handler struct {
	store    store.Store
	events   *events.Adapter
	presence PresenceReader
	tokens   tokens.Options
	log      *zap.Logger
}

func New(d Deps) *Handler {
	safe.MustNotNil(d.Store, "api store")
	safe.MustNotNil(d.Events, "api events")
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:    d.Store,
		events:   d.Events,
		presence: d.Presence,
		tokens:   d.Tokens,
		log:      log,
	}
}

// Register mounts /health and every /api route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.health)

	rt := middleware.Routes{
		R:    r.Group("/api"),
		Auth: midsec.Middleware(midsec.DefaultOptions(h.tokens)),
	}
	open := middleware.RouteOpt{}
	auth := middleware.RouteOpt{IsAuth: true}

	rt.POST("/register", h.register, open)
	rt.POST("/login", h.login, open)

	rt.POST("/projects", h.createProject, auth)
	rt.GET("/projects", h.listProjects, auth)
	rt.GET("/projects/:id", h.getProject, auth)
	rt.POST("/projects/:id/finish", h.finishProject, auth)
	rt.GET("/projects/:id/presence", h.projectPresence, auth)

	rt.POST("/projects/:id/tasks", h.createTask, auth)
	rt.GET("/projects/:id/tasks", h.listTasks, auth)
	rt.PUT("/tasks/:id", h.updateTask, auth)

	rt.POST("/tasks/:id/comments", h.createComment, auth)
	rt.GET("/tasks/:id/comments", h.listComments, auth)

	rt.POST("/projects/:id/messages", h.createMessage, auth)
	rt.GET("/projects/:id/messages", h.listMessages, auth)

	rt.POST("/projects/:id/collaborators", h.addCollaborator, auth)
	rt.GET("/projects/:id/collaborators", h.listCollaborators, auth)
	rt.PUT("/projects/:id/collaborators/:userId", h.updateCollaborator, auth)
	rt.DELETE("/projects/:id/collaborators/:userId", h.removeCollaborator, auth)

	rt.GET("/notifications", h.listNotifications, auth)
	rt.POST("/notifications/:id/read", h.readNotification, auth)
}

func (h *Handler) health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
