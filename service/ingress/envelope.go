package ingress

import (
	"context"
	"encoding/json"
	"time"

	"PBoard/tools/errs"

	"go.uber.org/zap"
)

// Envelope is the wire shape of a committed mutation produced by another
// writer. Record is the mutated row as the REST path would return it.
type Envelope struct {
	ID     string         `json:"id,omitempty"`
	Origin string         `json:"origin,omitempty"` // node that relayed it, if any
	Kind   string         `json:"kind"`
	Record map[string]any `json:"record"`
}

// Notifier turns a decoded mutation into broadcast events.
type Notifier interface {
	Notify(kind string, record map[string]any) error
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.ErrArgs.WrapMsg("envelope is not JSON: " + err.Error())
	}
	if env.Kind == "" {
		return nil, errs.ErrArgs.WrapMsg("envelope has no kind")
	}
	if env.Record == nil {
		return nil, errs.ErrArgs.WrapMsg("envelope has no record", "kind", env.Kind)
	}
	return &env, nil
}

// Dispatch decodes every message and hands it to n. Envelopes relayed by
// self were already delivered locally and are skipped. Bad envelopes and
// unknown kinds are logged and dropped; redelivery would not fix them.
func Dispatch(n Notifier, self string, log *zap.Logger) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(_ context.Context, msg Message) error {
		env, err := DecodeEnvelope(msg.Data)
		if err == nil && self != "" && env.Origin == self {
			return nil
		}
		if err == nil {
			err = n.Notify(env.Kind, env.Record)
		}
		if err != nil {
			log.Warn("dropping mutation",
				zap.String("source", msg.Source),
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
		return nil
	}
}

// SkipOrigin drops envelopes relayed by self before any later middleware
// sees them.
func SkipOrigin(self string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			var head struct {
				Origin string `json:"origin"`
			}
			if self != "" && json.Unmarshal(msg.Data, &head) == nil && head.Origin == self {
				return nil
			}
			return next(ctx, msg)
		}
	}
}

// NodeHandler is the ingress pipeline of one node. Dedup runs after the
// origin skip and is scoped to self, so peers sharing one store each
// deliver every envelope once.
func NodeHandler(n Notifier, self string, store IdemStore, ttl time.Duration, log *zap.Logger) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return Chain(
		Dispatch(n, self, log),
		Logging(log),
		SkipOrigin(self),
		Idempotent(Scoped(store, self), ttl),
	)
}

// Logging records every delivery at debug level.
func Logging(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			log.Debug("mutation received",
				zap.String("source", msg.Source),
				zap.String("subject", msg.Subject),
				zap.Int("bytes", len(msg.Data)))
			return next(ctx, msg)
		}
	}
}
