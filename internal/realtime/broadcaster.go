// README: Event broadcaster; isolated per-subscriber delivery, ordered per topic.
package realtime

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"trackd/internal/clock"
	"trackd/internal/metrics"
)

const publishStripes = 64

// Broadcaster never performs network I/O. A publish encodes the event once
// and enqueues it on each subscriber's queue; the transport writer for
// each connection drains that queue independently.
type Broadcaster struct {
	reg      *Registry
	clock    clock.Clock
	logger   *slog.Logger
	maxDrops int
	evict    func(*Conn)

	// Publishes to one topic are serialised so every subscriber present at
	// publish time sees them in publish order.
	stripes [publishStripes]sync.Mutex
}

type BroadcasterOptions struct {
	Clock  clock.Clock
	Logger *slog.Logger
	// MaxDrops is the number of consecutive full-queue drops after which a
	// connection is handed to Evict. Zero disables eviction.
	MaxDrops int
	Evict    func(*Conn)
}

func NewBroadcaster(reg *Registry, opts BroadcasterOptions) *Broadcaster {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Broadcaster{
		reg:      reg,
		clock:    opts.Clock,
		logger:   opts.Logger,
		maxDrops: opts.MaxDrops,
		evict:    opts.Evict,
	}
}

// Publish delivers ev to every current member of t and returns how many
// accepted it. An unknown topic delivers to nobody and is not an error.
func (b *Broadcaster) Publish(t Topic, ev Event) int {
	start := time.Now()
	defer func() { metrics.PublishDuration.Observe(time.Since(start).Seconds()) }()

	frame, err := encodeEvent(t, ev, b.clock.Now())
	if err != nil {
		b.logger.Error("encode event", "topic", t.String(), "type", ev.Type, "error", err)
		return 0
	}
	metrics.EventsPublished.WithLabelValues(string(t.Kind), ev.Type).Inc()

	stripe := &b.stripes[stripeFor(t)]
	stripe.Lock()
	members := b.reg.Members(t)
	delivered := 0
	var slow []*Conn
	for _, c := range members {
		err := c.Send(frame)
		switch {
		case err == nil:
			delivered++
			metrics.Deliveries.WithLabelValues("ok").Inc()
		case errors.Is(err, ErrBackpressure):
			metrics.Deliveries.WithLabelValues("dropped").Inc()
			b.logger.Warn("delivery dropped", "conn", c.id, "topic", t.String(), "type", ev.Type)
			if b.maxDrops > 0 && c.consecutiveDrops() >= b.maxDrops {
				slow = append(slow, c)
			}
		default:
			metrics.Deliveries.WithLabelValues("closed").Inc()
			b.logger.Debug("delivery to closed connection", "conn", c.id, "topic", t.String())
		}
	}
	stripe.Unlock()

	for _, c := range slow {
		metrics.Evictions.Inc()
		b.logger.Warn("evicting slow consumer", "conn", c.id, "drops", c.consecutiveDrops())
		if b.evict != nil {
			b.evict(c)
		}
	}
	return delivered
}

// PublishMulti is one independent Publish per topic. Duplicate topics are
// published once.
func (b *Broadcaster) PublishMulti(topics []Topic, ev Event) int {
	seen := make(map[Topic]struct{}, len(topics))
	total := 0
	for _, t := range topics {
		if t.ID == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		total += b.Publish(t, ev)
	}
	return total
}

func stripeFor(t Topic) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(t.String()))
	return h.Sum32() % publishStripes
}
