package broadcast

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSServer upgrades HTTP requests and runs the read side of each connection.
type WSServer struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWSServer(hub *Hub, allowedOrigins []string, log *zap.Logger) *WSServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSServer{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log,
	}
}

// originChecker allows any origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
}

// HandleWS serves GET /ws. An optional ?token= identifies right away.
func (s *WSServer) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader already wrote the HTTP error
		s.log.Info("upgrade websocket", zap.Error(err))
		return
	}

	w := s.hub.OnConnect(ws)
	defer s.hub.OnDisconnect(w.SnowID)

	ctx := c.Request.Context()
	if tok := strings.TrimSpace(c.Query("token")); tok != "" {
		raw, _ := json.Marshal(map[string]string{"type": MsgIdentify, "token": tok})
		s.hub.OnClientMessage(ctx, w.SnowID, raw)
	}

	s.readPump(ctx, w)
}

// readPump returns when the peer goes away or the writer closes the socket.
func (s *WSServer) readPump(ctx context.Context, w *WsConn) {
	conf := s.hub.conns.Conf()
	ws := w.Conn

	ws.SetReadLimit(conf.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(conf.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			s.logReadError(w.SnowID, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.hub.OnClientMessage(ctx, w.SnowID, data)
	}
}

func (s *WSServer) logReadError(connID string, err error) {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		s.log.Debug("peer closed", zap.String("conn_id", connID))
		return
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		s.log.Info("read timeout", zap.String("conn_id", connID))
		return
	}
	s.log.Debug("read error", zap.String("conn_id", connID), zap.Error(err))
}
