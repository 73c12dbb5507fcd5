// README: Location service: validate, throttle, cache and broadcast driver positions.
package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trackd/internal/clock"
	"trackd/internal/metrics"
	"trackd/internal/modules/order"
	"trackd/internal/realtime"
	"trackd/internal/types"
)

var (
	ErrThrottled     = errors.New("position updates too frequent")
	ErrStaleSample   = errors.New("position older than the latest sample")
	ErrNotMoving     = errors.New("order is not out for delivery")
	ErrNotAssigned   = errors.New("caller is not the assigned driver")
	ErrInvalidSample = errors.New("invalid position")
)

type OrderReader interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

type Publisher interface {
	PublishMulti(topics []realtime.Topic, ev realtime.Event) int
}

// Mirror receives a copy of every recorded sample (best effort).
type Mirror interface {
	Mirror(ctx context.Context, s Sample) error
}

type Options struct {
	RatePerSecond float64
	Burst         int
	Mirror        Mirror
	Clock         clock.Clock
	Logger        *slog.Logger
}

type Service struct {
	orders OrderReader
	cache  Cache
	pub    Publisher
	mirror Mirror
	clock  clock.Clock
	logger *slog.Logger

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[types.ID]*rate.Limiter
	newest   map[types.ID]time.Time

	// recording serialises Record per order from the watermark check
	// through the publish.
	recording map[types.ID]*sync.Mutex
}

func NewService(orders OrderReader, cache Cache, pub Publisher, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Service{
		orders:   orders,
		cache:    cache,
		pub:      pub,
		mirror:   opts.Mirror,
		clock:    opts.Clock,
		logger:   opts.Logger,
		limit:    limit,
		burst:    opts.Burst,
		limiters: make(map[types.ID]*rate.Limiter),
		newest:   make(map[types.ID]time.Time),

		recording: make(map[types.ID]*sync.Mutex),
	}
}

// SubmitCommand is a position reported by a live client. A zero
// RecordedAt means "now".
type SubmitCommand struct {
	OrderID    types.ID
	Position   types.Point
	RecordedAt time.Time
}

// Submit accepts a position from the order's bound driver (or an admin or
// system caller) while the order is moving.
func (s *Service) Submit(ctx context.Context, who realtime.Identity, cmd SubmitCommand) (Sample, error) {
	if cmd.OrderID == "" || !validPoint(cmd.Position) {
		return Sample{}, ErrInvalidSample
	}
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return Sample{}, err
	}
	if !o.Status.Moving() {
		return Sample{}, ErrNotMoving
	}
	switch who.Role {
	case types.RoleAdmin, types.RoleSystem:
	case types.RoleDriver:
		if o.Driver() == "" || who.ScopeID() != o.Driver() {
			return Sample{}, ErrNotAssigned
		}
	default:
		return Sample{}, ErrNotAssigned
	}

	now := s.clock.Now()
	if !s.limiter(o.Driver()).AllowN(now, 1) {
		metrics.PositionSamples.WithLabelValues(SourceDriver, "throttled").Inc()
		return Sample{}, ErrThrottled
	}
	at := cmd.RecordedAt
	if at.IsZero() || at.After(now) {
		at = now
	}
	smp := Sample{
		OrderID:    o.ID,
		DriverID:   o.Driver(),
		Position:   cmd.Position,
		Source:     SourceDriver,
		RecordedAt: at,
	}
	if err := s.Record(ctx, *o, smp); err != nil {
		return Sample{}, err
	}
	return smp, nil
}

// Record caches and broadcasts a sample that has already been validated.
// Samples older than the newest one seen for the order are rejected, and
// samples for one order are cached and published in acceptance order.
func (s *Service) Record(ctx context.Context, o order.Order, smp Sample) error {
	lock := s.recordLock(o.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if last, ok := s.newest[o.ID]; ok && smp.RecordedAt.Before(last) {
		s.mu.Unlock()
		metrics.PositionSamples.WithLabelValues(smp.Source, "stale").Inc()
		return ErrStaleSample
	}
	s.newest[o.ID] = smp.RecordedAt
	s.mu.Unlock()

	if err := s.cache.Save(ctx, smp); err != nil {
		s.logger.Warn("cache position", "order_id", o.ID, "error", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, smp); err != nil {
			s.logger.Debug("mirror position", "order_id", o.ID, "error", err)
		}
	}

	s.pub.PublishMulti([]realtime.Topic{
		realtime.OrderTopic(o.ID),
		realtime.RestaurantTopic(o.RestaurantID),
		realtime.UserTopic(o.CustomerID),
	}, realtime.Event{Type: realtime.EventPositionUpdated, Data: smp.Update()})
	metrics.PositionSamples.WithLabelValues(smp.Source, "ok").Inc()
	return nil
}

func (s *Service) Latest(ctx context.Context, orderID types.ID) (*Sample, error) {
	return s.cache.Latest(ctx, orderID)
}

// OnStatusChanged forgets per-order and per-driver state once an order
// stops moving.
func (s *Service) OnStatusChanged(_ context.Context, change order.StatusChange, _ order.Order) {
	if change.NewStatus.Moving() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.newest, change.OrderID)
	delete(s.recording, change.OrderID)
	if change.DriverID != "" {
		delete(s.limiters, change.DriverID)
	}
}

func (s *Service) recordLock(orderID types.ID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.recording[orderID]
	if !ok {
		l = &sync.Mutex{}
		s.recording[orderID] = l
	}
	return l
}

func (s *Service) limiter(driverID types.ID) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[driverID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[driverID] = l
	}
	return l
}

func validPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
