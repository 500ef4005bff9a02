package broadcast

import "sync"

// Registry maps topics to subscribed connection ids and back. The two
// indexes are always inverses of each other.
type Registry struct {
	mu      sync.RWMutex
	byTopic map[Topic]map[string]struct{}
	byConn  map[string]map[Topic]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byTopic: make(map[Topic]map[string]struct{}),
		byConn:  make(map[string]map[Topic]struct{}),
	}
}

// Subscribe is idempotent and does no authorization.
func (r *Registry) Subscribe(connID string, topic Topic) {
	if connID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byTopic[topic]
	if subs == nil {
		subs = make(map[string]struct{})
		r.byTopic[topic] = subs
	}
	subs[connID] = struct{}{}

	topics := r.byConn[connID]
	if topics == nil {
		topics = make(map[Topic]struct{})
		r.byConn[connID] = topics
	}
	topics[topic] = struct{}{}
}

// Unsubscribe is idempotent.
func (r *Registry) Unsubscribe(connID string, topic Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(connID, topic)
}

func (r *Registry) unsubscribeLocked(connID string, topic Topic) {
	if subs := r.byTopic[topic]; subs != nil {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.byTopic, topic)
		}
	}
	if topics := r.byConn[connID]; topics != nil {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// UnsubscribeMatching removes connID from every topic for which match
// returns true and reports the removed topics.
func (r *Registry) UnsubscribeMatching(connID string, match func(Topic) bool) []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Topic
	for t := range r.byConn[connID] {
		if match(t) {
			removed = append(removed, t)
		}
	}
	for _, t := range removed {
		r.unsubscribeLocked(connID, t)
	}
	return removed
}

// DropConnection removes connID from every topic and returns them.
func (r *Registry) DropConnection(connID string) []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := r.byConn[connID]
	out := make([]Topic, 0, len(topics))
	for t := range topics {
		out = append(out, t)
		if subs := r.byTopic[t]; subs != nil {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(r.byTopic, t)
			}
		}
	}
	delete(r.byConn, connID)
	return out
}

// SubscribersOf returns a copy; later registry changes do not affect it.
func (r *Registry) SubscribersOf(topic Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byTopic[topic]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// TopicsOf returns a copy of connID's topics in no particular order.
func (r *Registry) TopicsOf(connID string) []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := r.byConn[connID]
	out := make([]Topic, 0, len(topics))
	for t := range topics {
		out = append(out, t)
	}
	return out
}

// IsSubscribed reports whether connID is a member of topic.
func (r *Registry) IsSubscribed(connID string, topic Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byTopic[topic][connID]
	return ok
}

// Len returns the number of live topics and subscribed connections.
func (r *Registry) Len() (topics, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic), len(r.byConn)
}
