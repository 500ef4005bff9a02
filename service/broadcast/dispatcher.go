package broadcast

import (
	"encoding/json"

	"PBoard/tools/errs"

	"go.uber.org/zap"
)

// Sender enqueues an encoded frame on one connection without blocking.
type Sender interface {
	SendOne(connID string, data []byte) error
}

// Event is the only wire shape of a published event.
type Event struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// Dispatcher delivers events to a point-in-time snapshot of a topic's
// subscribers.
type Dispatcher struct {
	registry *Registry
	sender   Sender
	log      *zap.Logger
}

func NewDispatcher(registry *Registry, sender Sender, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{registry: registry, sender: sender, log: log}
}

// Publish returns the number of connections a send was attempted on.
// Failures on individual connections are logged and never returned.
func (d *Dispatcher) Publish(topic Topic, kind string, payload any) (count int) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("publish panic",
				zap.Stringer("topic", topic), zap.String("kind", kind), zap.Error(errs.ErrPanic(r)))
		}
	}()

	data, err := json.Marshal(Event{Kind: kind, Payload: payload})
	if err != nil {
		d.log.Error("encode event", zap.Stringer("topic", topic), zap.String("kind", kind), zap.Error(err))
		return 0
	}

	subs := d.registry.SubscribersOf(topic)
	for _, connID := range subs {
		count++
		if err := d.sender.SendOne(connID, data); err != nil {
			d.log.Warn("skip delivery",
				zap.String("conn_id", connID),
				zap.Stringer("topic", topic),
				zap.String("kind", kind),
				zap.Error(err))
		}
	}
	d.log.Debug("published", zap.Stringer("topic", topic), zap.String("kind", kind), zap.Int("attempted", count))
	return count
}
