package realtime

import (
	"hash/fnv"
	"log/slog"
	"sync"

	"SocialChatServer/internal/metrics"
)

const shardCount = 64

// Conn is a live push connection as seen by the registry.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

type userShard struct {
	mu    sync.RWMutex
	users map[string]map[string]Conn
}

type connShard struct {
	mu    sync.Mutex
	owner map[string]string
}

// Registry maps user ids to their live connections. State is split into
// shards keyed by a hash of the user id (and of the connection id for the
// reverse index) so unrelated users never contend on one lock.
type Registry struct {
	users  [shardCount]userShard
	conns  [shardCount]connShard
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	for i := range r.users {
		r.users[i].users = make(map[string]map[string]Conn)
		r.conns[i].owner = make(map[string]string)
	}
	return r
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

// Bind associates c with userID. Binding the same handle again is a no-op;
// binding it to another user moves it. The connection shard lock is always
// taken before a user shard lock.
func (r *Registry) Bind(c Conn, userID string) {
	cs := &r.conns[shardIndex(c.ID())]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	prev, bound := cs.owner[c.ID()]
	if bound && prev == userID {
		return
	}
	if bound {
		r.removeFromUser(c.ID(), prev)
	} else {
		metrics.ConnectionOpened()
	}
	cs.owner[c.ID()] = userID

	us := &r.users[shardIndex(userID)]
	us.mu.Lock()
	set := us.users[userID]
	if set == nil {
		set = make(map[string]Conn)
		us.users[userID] = set
	}
	set[c.ID()] = c
	us.mu.Unlock()
}

// Unbind removes exactly c. It is a no-op if c is not bound.
func (r *Registry) Unbind(c Conn) {
	cs := &r.conns[shardIndex(c.ID())]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	userID, bound := cs.owner[c.ID()]
	if !bound {
		return
	}
	delete(cs.owner, c.ID())
	r.removeFromUser(c.ID(), userID)
	metrics.ConnectionClosed()
}

func (r *Registry) removeFromUser(connID, userID string) {
	us := &r.users[shardIndex(userID)]
	us.mu.Lock()
	defer us.mu.Unlock()
	set := us.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(us.users, userID)
	}
}

func (r *Registry) snapshot(userID string) []Conn {
	us := &r.users[shardIndex(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	set := us.users[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Route delivers event to every connection bound to userID and reports how
// many accepted it. A connection that refuses the frame is unbound.
func (r *Registry) Route(userID, event string, payload any) int {
	conns := r.snapshot(userID)
	if len(conns) == 0 {
		return 0
	}

	frame, err := EncodeFrame(event, payload)
	if err != nil {
		r.logger.Error("push: encode frame failed", "err", err, "event", event)
		return 0
	}

	delivered := 0
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			r.logger.Warn("push: delivery failed", "err", err, "event", event, "user_id", userID, "conn_id", c.ID())
			metrics.FrameDropped(event)
			r.Unbind(c)
			continue
		}
		metrics.FrameRouted(event)
		delivered++
	}
	return delivered
}

// Connections reports how many connections userID currently holds.
func (r *Registry) Connections(userID string) int {
	us := &r.users[shardIndex(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.users[userID])
}

func (r *Registry) Online(userID string) bool {
	return r.Connections(userID) > 0
}
