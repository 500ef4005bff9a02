package broadcast

import (
	"sync"

	"PBoard/tools/errs"
)

// TokenVerifier checks signature and expiry and yields the user id.
type TokenVerifier interface {
	VerifyToken(token string) (int64, error)
}

// Binder records which user a connection authenticated as.
type Binder struct {
	mu         sync.RWMutex
	verifier   TokenVerifier
	registry   *Registry
	identities map[string]int64
}

func NewBinder(verifier TokenVerifier, registry *Registry) *Binder {
	return &Binder{
		verifier:   verifier,
		registry:   registry,
		identities: make(map[string]int64),
	}
}

// Bind verifies token and subscribes connID to its user topic. A failed
// bind leaves any existing binding untouched. Rebinding to another user
// drops the memberships granted to the previous one.
func (b *Binder) Bind(connID, token string) (int64, error) {
	if token == "" {
		return 0, errs.ErrTokenMalformed.WrapMsg("empty token")
	}
	uid, err := b.verifier.VerifyToken(token)
	if err != nil {
		if _, ok := errs.As(err); !ok {
			err = errs.ErrTokenMalformed.WrapMsg(err.Error())
		}
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev, had := b.identities[connID]
	if had && prev != uid {
		b.registry.UnsubscribeMatching(connID, func(t Topic) bool {
			return t.IsProject() || t == UserTopic(prev)
		})
	}
	b.identities[connID] = uid
	b.registry.Subscribe(connID, UserTopic(uid))
	return uid, nil
}

func (b *Binder) Identity(connID string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	uid, ok := b.identities[connID]
	return uid, ok
}

// ConnsOf lists the connections currently bound as uid.
func (b *Binder) ConnsOf(uid int64) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for connID, id := range b.identities {
		if id == uid {
			out = append(out, connID)
		}
	}
	return out
}

func (b *Binder) Forget(connID string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	uid, ok := b.identities[connID]
	delete(b.identities, connID)
	return uid, ok
}

// Snapshot copies every current binding, keyed by connection id.
func (b *Binder) Snapshot() map[string]int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int64, len(b.identities))
	for connID, uid := range b.identities {
		out[connID] = uid
	}
	return out
}
