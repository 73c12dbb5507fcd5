// README: Subscription registry (rooms); the fan-out index.
package realtime

import "sync"

// Registry owns both directions of membership. A connection is in a
// topic's member set if and only if the topic is in the connection's
// joined set. The lock is held only for the map mutation.
type Registry struct {
	mu     sync.RWMutex
	topics map[Topic]map[ConnID]*Conn
	joined map[ConnID]map[Topic]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[Topic]map[ConnID]*Conn),
		joined: make(map[ConnID]map[Topic]struct{}),
	}
}

// Join is idempotent. It reports false when c is already closed.
func (r *Registry) Join(c *Conn, t Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.Closed() {
		return false
	}

	members, ok := r.topics[t]
	if !ok {
		members = make(map[ConnID]*Conn)
		r.topics[t] = members
	}
	members[c.id] = c

	set, ok := r.joined[c.id]
	if !ok {
		set = make(map[Topic]struct{})
		r.joined[c.id] = set
	}
	set[t] = struct{}{}
	return true
}

// Leave is idempotent; an unknown topic is a no-op.
func (r *Registry) Leave(c *Conn, t Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlinkLocked(c.id, t)
}

// Drop removes c from every topic it joined and returns those topics.
// Cost is proportional to c's own membership.
func (r *Registry) Drop(c *Conn) []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.joined[c.id]
	left := make([]Topic, 0, len(set))
	for t := range set {
		left = append(left, t)
	}
	for _, t := range left {
		r.unlinkLocked(c.id, t)
	}
	delete(r.joined, c.id)
	return left
}

func (r *Registry) unlinkLocked(id ConnID, t Topic) {
	if members, ok := r.topics[t]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.topics, t)
		}
	}
	if set, ok := r.joined[id]; ok {
		delete(set, t)
		if len(set) == 0 {
			delete(r.joined, id)
		}
	}
}

// Members returns a snapshot of t's subscribers.
func (r *Registry) Members(t Topic) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.topics[t]
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Topics returns a snapshot of the topics c has joined.
func (r *Registry) Topics(c *Conn) []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.joined[c.id]
	out := make([]Topic, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.joined)
}
