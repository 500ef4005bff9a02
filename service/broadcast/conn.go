package broadcast

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
	ErrConnNotFound  = errors.New("connection not found")
)

// WsConn is one live client connection. Frames reach the socket only
// through its writer goroutine; send is never closed, done signals shutdown.
type WsConn struct {
	SnowID    string
	Conn      *websocket.Conn
	Remote    net.Addr
	CreatedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWsConn(snowID string, conn *websocket.Conn, queueSize int, now time.Time) *WsConn {
	w := &WsConn{
		SnowID:    snowID,
		Conn:      conn,
		CreatedAt: now,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	if conn != nil {
		w.Remote = conn.RemoteAddr()
	}
	return w
}

// enqueue never blocks.
func (w *WsConn) enqueue(data []byte) error {
	select {
	case <-w.done:
		return ErrConnClosed
	default:
	}
	select {
	case w.send <- data:
		return nil
	case <-w.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// Outbox exposes the queue of a connection added without a socket, whose
// frames nobody else reads.
func (w *WsConn) Outbox() <-chan []byte { return w.send }

func (w *WsConn) close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *WsConn) Closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// writePump owns all writes to the socket, including keepalive pings.
func (w *WsConn) writePump(conf ManagerConf, log *zap.Logger) {
	ticker := time.NewTicker(conf.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = w.Conn.Close()
	}()

	for {
		select {
		case msg := <-w.send:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(conf.WriteWait))
			if err := w.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("write frame", zap.String("conn_id", w.SnowID), zap.Error(err))
				w.close()
				return
			}
		case <-ticker.C:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(conf.WriteWait))
			if err := w.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("write ping", zap.String("conn_id", w.SnowID), zap.Error(err))
				w.close()
				return
			}
		case <-w.done:
			_ = w.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(conf.WriteWait))
			return
		}
	}
}
