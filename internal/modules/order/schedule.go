// README: new_order announcements for placed and due scheduled orders.
package order

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trackd/internal/realtime"
	"trackd/internal/types"
)

// AnnounceGuard reports true the first time an order id is marked, and
// false on every later attempt.
type AnnounceGuard interface {
	MarkAnnounced(ctx context.Context, id types.ID) (bool, error)
}

type MemoryGuard struct {
	mu   sync.Mutex
	seen map[types.ID]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[types.ID]struct{})}
}

func (g *MemoryGuard) MarkAnnounced(_ context.Context, id types.ID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return false, nil
	}
	g.seen[id] = struct{}{}
	return true, nil
}

// RedisGuard shares the once-only decision across processes.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) MarkAnnounced(ctx context.Context, id types.ID) (bool, error) {
	return g.rdb.SetNX(ctx, announceKey(id), 1, g.ttl).Result()
}

func announceKey(id types.ID) string {
	return "announce:order:" + string(id)
}

// Announceable: placed orders immediately, scheduled orders once due.
func Announceable(o Order, now time.Time) bool {
	switch o.Status {
	case StatusPlaced:
		return true
	case StatusScheduled:
		return o.ScheduledAt != nil && !o.ScheduledAt.After(now)
	}
	return false
}

// Announce tells the restaurant about the order. It reports false when the
// order was already announced.
func (s *Service) Announce(ctx context.Context, id types.ID) (bool, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return s.announce(ctx, *o)
}

func (s *Service) announce(ctx context.Context, o Order) (bool, error) {
	if !Announceable(o, s.clock.Now()) {
		return false, ErrNotActionable
	}
	first, err := s.guard.MarkAnnounced(ctx, o.ID)
	if err != nil || !first {
		return false, err
	}
	n := s.pub.Publish(realtime.RestaurantTopic(o.RestaurantID), realtime.Event{
		Type: realtime.EventNewOrder,
		Data: NewOrderNotice{
			RestaurantID: o.RestaurantID,
			OrderID:      o.ID,
			Status:       o.Status,
			Summary:      o.Summary,
			ScheduledAt:  o.ScheduledAt,
		},
	})
	s.logger.Info("new order announced", "order_id", o.ID, "restaurant_id", o.RestaurantID, "delivered", n)
	return true, nil
}

// RunScheduleAnnouncer announces scheduled orders as they come due.
func (s *Service) RunScheduleAnnouncer(ctx context.Context, every time.Duration) {
	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.announceDue(ctx)
		}
	}
}

func (s *Service) announceDue(ctx context.Context) {
	due, err := s.repo.ListDueScheduled(ctx, s.clock.Now())
	if err != nil {
		s.logger.Warn("list due scheduled orders", "error", err)
		return
	}
	for _, o := range due {
		if _, err := s.announce(ctx, *o); err != nil {
			s.logger.Warn("announce scheduled order", "order_id", o.ID, "error", err)
		}
	}
}
