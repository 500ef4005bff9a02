package broadcast

import (
	"context"
	"sync"
	"time"

	"PBoard/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authorizer answers whether a user may observe a project.
type Authorizer interface {
	IsProjectCollaborator(ctx context.Context, userID, projectID int64) (bool, error)
}

// PresenceTracker mirrors bound connections to an external store.
type PresenceTracker interface {
	Online(ctx context.Context, userID int64, connID string) error
	Offline(ctx context.Context, userID int64, connID string) error
}

type Options struct {
	Conn             ManagerConf
	AuthorizeTimeout time.Duration
	Presence         PresenceTracker // nil disables presence updates
	PresenceRefresh  time.Duration   // re-announce bound connections; 0 disables
	Router           *Router
	Log              *zap.Logger
}

type presenceUpdate struct {
	online bool
	userID int64
	connID string
}

// Hub ties the registry, dispatcher, binder and connection manager
// together behind the transport callbacks.
type Hub struct {
	registry   *Registry
	dispatcher *Dispatcher
	binder     *Binder
	conns      *ConnManager
	authz      Authorizer
	router     *Router

	presence        PresenceTracker
	presenceCh      chan presenceUpdate
	presenceRefresh time.Duration

	// evictMu orders joins against evictions; evictions counts them so a
	// join can tell its authorizer answer went stale.
	evictMu   sync.Mutex
	evictions uint64

	authorizeTimeout time.Duration
	log              *zap.Logger
}

func NewHub(verifier TokenVerifier, authz Authorizer, opts Options) *Hub {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Router == nil {
		opts.Router = DefaultRouter()
	}
	if opts.AuthorizeTimeout <= 0 {
		opts.AuthorizeTimeout = 3 * time.Second
	}

	registry := NewRegistry()
	conns := NewConnManager(opts.Conn, log)
	h := &Hub{
		registry:         registry,
		dispatcher:       NewDispatcher(registry, conns, log),
		binder:           NewBinder(verifier, registry),
		conns:            conns,
		authz:            authz,
		router:           opts.Router,
		presence:         opts.Presence,
		presenceRefresh:  opts.PresenceRefresh,
		authorizeTimeout: opts.AuthorizeTimeout,
		log:              log,
	}
	if h.presence != nil {
		h.presenceCh = make(chan presenceUpdate, 1024)
	}
	return h
}

func (h *Hub) Registry() *Registry     { return h.registry }
func (h *Hub) Conns() *ConnManager     { return h.conns }
func (h *Hub) Binder() *Binder         { return h.binder }
func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }

// ===== transport callbacks =====

// OnConnect registers a new, unbound connection.
func (h *Hub) OnConnect(ws *websocket.Conn) *WsConn {
	w := h.conns.Add(ws)
	h.log.Debug("connected", zap.String("conn_id", w.SnowID))
	return w
}

// OnDisconnect drops every membership before the send queue is shut.
func (h *Hub) OnDisconnect(connID string) {
	topics := h.registry.DropConnection(connID)
	uid, bound := h.binder.Forget(connID)
	h.conns.Remove(connID)
	if bound {
		h.notePresence(false, uid, connID)
	}
	h.log.Debug("disconnected", zap.String("conn_id", connID), zap.Int("topics", len(topics)))
}

// OnClientMessage handles one inbound frame and answers with an ack or a
// rejection. The connection always stays open.
func (h *Hub) OnClientMessage(ctx context.Context, connID string, raw []byte) {
	msg, err := ParseClientMessage(raw)
	if err != nil {
		h.reply(connID, BuildRejection("", err))
		return
	}

	handler := h.router.GetHandler(msg.Type)
	if handler == nil {
		h.reply(connID, BuildRejection(msg.Type, errs.ErrUnknownMessage.WrapMsg("unknown type", "type", msg.Type)))
		return
	}

	payload, err := h.safeHandle(ctx, handler, connID, msg)
	if err != nil {
		h.log.Debug("client message rejected",
			zap.String("conn_id", connID), zap.String("type", msg.Type), zap.Error(err))
		h.reply(connID, BuildRejection(msg.Type, err))
		return
	}
	h.reply(connID, BuildAck(msg.Type, payload))
}

func (h *Hub) safeHandle(ctx context.Context, handler MessageHandler, connID string, msg *ClientMessage) (payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
			h.log.Error("handler panic", zap.String("type", msg.Type), zap.Error(err))
		}
	}()
	return handler.Handle(ctx, h, connID, msg)
}

func (h *Hub) reply(connID string, frame []byte) {
	if err := h.conns.SendOne(connID, frame); err != nil {
		h.log.Debug("reply dropped", zap.String("conn_id", connID), zap.Error(err))
	}
}

// ===== operations =====

// Identify binds connID to the token's user and subscribes it to that
// user's topic.
func (h *Hub) Identify(connID, token string) (int64, error) {
	prev, hadPrev := h.binder.Identity(connID)
	uid, err := h.binder.Bind(connID, token)
	if err != nil {
		return 0, err
	}
	if hadPrev && prev != uid {
		h.notePresence(false, prev, connID)
	}
	if !hadPrev || prev != uid {
		h.notePresence(true, uid, connID)
	}
	h.log.Debug("identified", zap.String("conn_id", connID), zap.Int64("user_id", uid))
	return uid, nil
}

// JoinProject subscribes connID to Project(projectID) when its bound user
// collaborates on the project.
func (h *Hub) JoinProject(ctx context.Context, connID string, projectID int64) error {
	if projectID <= 0 {
		return errs.ErrArgs.WrapMsg("projectId must be positive")
	}
	uid, ok := h.binder.Identity(connID)
	if !ok {
		return errs.ErrForbidden.WrapMsg("identify first")
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		h.evictMu.Lock()
		gen := h.evictions
		h.evictMu.Unlock()

		if err := h.authorize(ctx, uid, projectID); err != nil {
			return err
		}

		h.evictMu.Lock()
		if h.evictions != gen {
			// an eviction ran while the authorizer answered; ask again
			h.evictMu.Unlock()
			continue
		}
		// the binding may have changed while the authorizer ran
		if cur, ok := h.binder.Identity(connID); !ok || cur != uid {
			h.evictMu.Unlock()
			return errs.ErrForbidden.WrapMsg("identity changed")
		}
		h.registry.Subscribe(connID, ProjectTopic(projectID))
		h.evictMu.Unlock()
		return nil
	}
	return errs.ErrInternalServer.WrapMsg("membership kept changing during join", "project_id", projectID)
}

const joinAttempts = 3

func (h *Hub) authorize(ctx context.Context, uid, projectID int64) error {
	ctx, cancel := context.WithTimeout(ctx, h.authorizeTimeout)
	defer cancel()
	allowed, err := h.authz.IsProjectCollaborator(ctx, uid, projectID)
	if err != nil {
		h.log.Warn("authorize join", zap.Int64("user_id", uid), zap.Int64("project_id", projectID), zap.Error(err))
		return errs.ErrInternalServer.WrapMsg("authorization unavailable")
	}
	if !allowed {
		return errs.ErrForbidden.WrapMsg("not a collaborator", "project_id", projectID)
	}
	return nil
}

// LeaveProject needs no identity; removing a membership is always safe.
func (h *Hub) LeaveProject(connID string, projectID int64) error {
	if projectID <= 0 {
		return errs.ErrArgs.WrapMsg("projectId must be positive")
	}
	h.registry.Unsubscribe(connID, ProjectTopic(projectID))
	return nil
}

func (h *Hub) Publish(topic Topic, kind string, payload any) int {
	return h.dispatcher.Publish(topic, kind, payload)
}

func (h *Hub) PublishProject(projectID int64, kind string, payload any) int {
	return h.dispatcher.Publish(ProjectTopic(projectID), kind, payload)
}

func (h *Hub) PublishUser(userID int64, kind string, payload any) int {
	return h.dispatcher.Publish(UserTopic(userID), kind, payload)
}

// EvictUser removes every connection bound as userID from Project(projectID).
// Joins that were authorized before the eviction retry their check.
func (h *Hub) EvictUser(userID, projectID int64) int {
	h.evictMu.Lock()
	defer h.evictMu.Unlock()
	h.evictions++

	topic := ProjectTopic(projectID)
	n := 0
	for _, connID := range h.binder.ConnsOf(userID) {
		if h.registry.IsSubscribed(connID, topic) {
			h.registry.Unsubscribe(connID, topic)
			n++
		}
	}
	return n
}

// IsOnline reports whether userID has a bound connection on this node.
func (h *Hub) IsOnline(_ context.Context, userID int64) (bool, error) {
	return len(h.binder.ConnsOf(userID)) > 0, nil
}

// ===== presence =====

func (h *Hub) notePresence(online bool, userID int64, connID string) {
	if h.presenceCh == nil {
		return
	}
	select {
	case h.presenceCh <- presenceUpdate{online: online, userID: userID, connID: connID}:
	default:
		h.log.Warn("presence queue full", zap.Int64("user_id", userID), zap.String("conn_id", connID))
	}
}

// Run applies presence updates until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.presenceCh == nil {
		<-ctx.Done()
		return
	}
	var tick <-chan time.Time
	if h.presenceRefresh > 0 {
		t := time.NewTicker(h.presenceRefresh)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-h.presenceCh:
			h.applyPresence(ctx, u)
		case <-tick:
			for connID, uid := range h.binder.Snapshot() {
				h.applyPresence(ctx, presenceUpdate{online: true, userID: uid, connID: connID})
			}
		}
	}
}

func (h *Hub) applyPresence(ctx context.Context, u presenceUpdate) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var err error
	if u.online {
		err = h.presence.Online(ctx, u.userID, u.connID)
	} else {
		err = h.presence.Offline(ctx, u.userID, u.connID)
	}
	if err != nil {
		h.log.Warn("presence update", zap.Bool("online", u.online), zap.Int64("user_id", u.userID), zap.Error(err))
	}
}

// Close stops every connection.
func (h *Hub) Close() {
	h.conns.Close()
}
