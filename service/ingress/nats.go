package ingress

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type NatsConfig struct {
	Servers       []string
	Name          string
	Subject       string
	Queue         string // queue group; empty means every node sees every message
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsSource delivers core NATS messages on one subject to a Handler.
type NatsSource struct {
	cfg NatsConfig
	nc  *nats.Conn
	sub *nats.Subscription
	log *zap.Logger
}

func NewNatsSource(cfg NatsConfig, log *zap.Logger) (*NatsSource, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.Subject == "" {
		return nil, errors.New("nats subject missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NatsSource{cfg: cfg, nc: nc, log: log}, nil
}

// Start subscribes h. Messages are handled on the subscription goroutine.
func (s *NatsSource) Start(ctx context.Context, h Handler) error {
	cb := func(m *nats.Msg) {
		_ = h(ctx, Message{
			Source:  "nats",
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	}

	var err error
	if s.cfg.Queue == "" {
		s.sub, err = s.nc.Subscribe(s.cfg.Subject, cb)
	} else {
		s.sub, err = s.nc.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, cb)
	}
	if err != nil {
		return errors.Wrapf(err, "nats subscribe %s", s.cfg.Subject)
	}
	_ = s.sub.SetPendingLimits(1_000_000, 64*1024*1024)
	s.log.Info("nats ingress started", zap.String("subject", s.cfg.Subject), zap.String("queue", s.cfg.Queue))
	return nil
}

// Close drains the subscription and the connection.
func (s *NatsSource) Close() error {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
