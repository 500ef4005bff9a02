package broadcast

import "context"

// MessageHandler serves one client message type.
type MessageHandler interface {
	Type() string
	Handle(ctx context.Context, h *Hub, connID string, msg *ClientMessage) (map[string]any, error)
}

// Router picks the handler for a client message type.
type Router struct {
	handlers map[string]MessageHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]MessageHandler)}
}

func (r *Router) Register(h MessageHandler) { r.handlers[h.Type()] = h }

func (r *Router) GetHandler(typ string) MessageHandler {
	return r.handlers[typ]
}

// DefaultRouter registers identify, joinProject and leaveProject.
func DefaultRouter() *Router {
	r := NewRouter()
	r.Register(IdentifyHandler{})
	r.Register(JoinProjectHandler{})
	r.Register(LeaveProjectHandler{})
	return r
}

type IdentifyHandler struct{}

func (IdentifyHandler) Type() string { return MsgIdentify }

func (IdentifyHandler) Handle(_ context.Context, h *Hub, connID string, msg *ClientMessage) (map[string]any, error) {
	uid, err := h.Identify(connID, msg.Token)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user_id": uid}, nil
}

type JoinProjectHandler struct{}

func (JoinProjectHandler) Type() string { return MsgJoinProject }

func (JoinProjectHandler) Handle(ctx context.Context, h *Hub, connID string, msg *ClientMessage) (map[string]any, error) {
	if err := h.JoinProject(ctx, connID, msg.ProjectID); err != nil {
		return nil, err
	}
	return map[string]any{"project_id": msg.ProjectID}, nil
}

type LeaveProjectHandler struct{}

func (LeaveProjectHandler) Type() string { return MsgLeaveProject }

func (LeaveProjectHandler) Handle(_ context.Context, h *Hub, connID string, msg *ClientMessage) (map[string]any, error) {
	if err := h.LeaveProject(connID, msg.ProjectID); err != nil {
		return nil, err
	}
	return map[string]any{"project_id": msg.ProjectID}, nil
}
