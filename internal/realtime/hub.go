// README: Hub ties connections, the registry and the broadcaster together.
package realtime

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"trackd/internal/clock"
	"trackd/internal/metrics"
	"trackd/internal/types"
)

var ErrForbiddenTopic = errors.New("topic not permitted for this identity")

type HubOptions struct {
	QueueSize int
	MaxDrops  int
	Clock     clock.Clock
	Logger    *slog.Logger
}

type Hub struct {
	reg       *Registry
	bc        *Broadcaster
	clock     clock.Clock
	logger    *slog.Logger
	queueSize int
}

func NewHub(opts HubOptions) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		reg:       NewRegistry(),
		clock:     opts.Clock,
		logger:    opts.Logger,
		queueSize: opts.QueueSize,
	}
	h.bc = NewBroadcaster(h.reg, BroadcasterOptions{
		Clock:    opts.Clock,
		Logger:   opts.Logger,
		MaxDrops: opts.MaxDrops,
		Evict:    h.Close,
	})
	return h
}

func (h *Hub) Registry() *Registry { return h.reg }

// Open registers a new connection and joins its home topics: its own user
// topic and, for restaurants and drivers, the role topic.
func (h *Hub) Open(identity Identity) *Conn {
	c := newConn(ConnID(uuid.NewString()), identity, h.queueSize)
	for _, t := range HomeTopics(identity) {
		h.reg.Join(c, t)
	}
	metrics.ConnectionsOpen.Inc()
	h.logger.Debug("connection opened", "conn", c.id, "subject", identity.SubjectID, "role", identity.Role)
	return c
}

// Close is safe to call more than once; only the first call unregisters.
func (h *Hub) Close(c *Conn) {
	if !c.close() {
		return
	}
	left := h.reg.Drop(c)
	metrics.ConnectionsOpen.Dec()
	h.logger.Debug("connection closed", "conn", c.id, "topics", len(left))
}

func (h *Hub) Join(c *Conn, t Topic) error {
	if err := CanJoin(c.identity, t); err != nil {
		return err
	}
	if !h.reg.Join(c, t) {
		return ErrConnClosed
	}
	return nil
}

func (h *Hub) Leave(c *Conn, t Topic) { h.reg.Leave(c, t) }

func (h *Hub) Publish(t Topic, ev Event) int { return h.bc.Publish(t, ev) }

func (h *Hub) PublishMulti(topics []Topic, ev Event) int { return h.bc.PublishMulti(topics, ev) }

// Reply queues a direct response on c. Failures are logged only.
func (h *Hub) Reply(c *Conn, kind, ref string, data any) {
	if err := c.Send(Reply(kind, ref, data, h.clock.Now())); err != nil {
		h.logger.Debug("reply not queued", "conn", c.id, "kind", kind, "error", err)
	}
}

func HomeTopics(identity Identity) []Topic {
	if identity.SubjectID == "" {
		return nil
	}
	topics := []Topic{UserTopic(identity.SubjectID)}
	switch identity.Role {
	case types.RoleRestaurant:
		topics = append(topics, RestaurantTopic(identity.ScopeID()))
	case types.RoleDriver:
		topics = append(topics, DriverTopic(identity.ScopeID()))
	}
	return topics
}

// CanJoin: order topics are open to anyone holding the id; user, restaurant
// and driver topics belong to their subject (or an admin).
func CanJoin(identity Identity, t Topic) error {
	if identity.Role == types.RoleAdmin || identity.Role == types.RoleSystem {
		return nil
	}
	switch t.Kind {
	case KindOrder:
		return nil
	case KindUser:
		if t.ID == identity.SubjectID {
			return nil
		}
	case KindRestaurant:
		if identity.Role == types.RoleRestaurant && t.ID == identity.ScopeID() {
			return nil
		}
	case KindDriver:
		if identity.Role == types.RoleDriver && t.ID == identity.ScopeID() {
			return nil
		}
	}
	return ErrForbiddenTopic
}
