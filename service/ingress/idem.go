package ingress

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdemStore remembers message ids for ttl.
type IdemStore interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
}

// memIdem is a single-process store; expired keys are swept on write.
type memIdem struct {
	mu        sync.Mutex
	m         map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemIdem() IdemStore {
	return &memIdem{m: make(map[string]time.Time), now: time.Now}
}

func (mi *memIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()

	if now.Sub(mi.lastSweep) > time.Minute {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
		mi.lastSweep = now
	}
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// redisIdem shares dedup state between nodes.
type redisIdem struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisIdem(rdb redis.UniversalClient, prefix string) IdemStore {
	if prefix == "" {
		prefix = "board:ingress:seen"
	}
	return &redisIdem{rdb: rdb, prefix: prefix}
}

func (ri *redisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := ri.rdb.SetNX(ctx, ri.prefix+":"+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type scopedIdem struct {
	store IdemStore
	scope string
}

// Scoped namespaces keys so several nodes can share one store without
// claiming each other's messages.
func Scoped(store IdemStore, scope string) IdemStore {
	if scope == "" {
		return store
	}
	return &scopedIdem{store: store, scope: scope}
}

func (s *scopedIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.store.SeenOnce(ctx, s.scope+":"+key, ttl)
}

func msgID(msg Message) string {
	for _, k := range []string{"Nats-Msg-Id", "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := msg.Header[k]; ok && v != "" {
			return v
		}
	}
	return msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
}

// Idempotent skips messages whose id was seen within ttl. A store error
// lets the message through.
func Idempotent(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			seen, err := store.SeenOnce(ctx, msgID(msg), ttl)
			if err == nil && seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
