package broadcast

import (
	"sync"
	"time"

	"PBoard/tools/ids"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== conf =====

type ManagerConf struct {
	SendQueueSize  int           // frames buffered per connection
	WriteWait      time.Duration // deadline for one socket write
	PongWait       time.Duration // read deadline, extended on every pong
	MaxMessageSize int64         // read limit for client frames
	Clock          func() time.Time
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
}

// pingPeriod must stay below PongWait.
func (c ManagerConf) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// ===== manager =====

// ConnManager owns every live WsConn keyed by its snowflake id.
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*WsConn
	conf   ManagerConf
	log    *zap.Logger
}

func NewConnManager(conf ManagerConf, log *zap.Logger) *ConnManager {
	conf.norm()
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnManager{
		bySnow: make(map[string]*WsConn),
		conf:   conf,
		log:    log,
	}
}

func (m *ConnManager) Conf() ManagerConf { return m.conf }

// Add registers a connection under a fresh id. ws may be nil, in which
// case frames stay queued for the caller to drain.
func (m *ConnManager) Add(ws *websocket.Conn) *WsConn {
	w := newWsConn(ids.GenerateString(), ws, m.conf.SendQueueSize, m.conf.Clock())

	m.mu.Lock()
	m.bySnow[w.SnowID] = w
	m.mu.Unlock()

	if ws != nil {
		go w.writePump(m.conf, m.log)
	}
	return w
}

func (m *ConnManager) Get(snowID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySnow[snowID]
	return w, ok
}

// Remove signals the writer to stop and forgets the connection.
func (m *ConnManager) Remove(snowID string) {
	m.mu.Lock()
	w, ok := m.bySnow[snowID]
	delete(m.bySnow, snowID)
	m.mu.Unlock()

	if ok {
		w.close()
	}
}

// SendOne enqueues data for snowID without blocking.
func (m *ConnManager) SendOne(snowID string, data []byte) error {
	m.mu.RLock()
	w, ok := m.bySnow[snowID]
	m.mu.RUnlock()
	if !ok {
		return ErrConnNotFound
	}
	return w.enqueue(data)
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// Close stops every connection. Readers notice the closed socket and run
// their own disconnect path.
func (m *ConnManager) Close() {
	m.mu.Lock()
	all := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		all = append(all, w)
	}
	m.mu.Unlock()

	for _, w := range all {
		w.close()
	}
}
