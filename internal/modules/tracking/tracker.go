// README: Delivery tracker replays a moving order along a path and completes it once.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"trackd/internal/clock"
	"trackd/internal/metrics"
	"trackd/internal/modules/location"
	"trackd/internal/modules/order"
	"trackd/internal/modules/route"
	"trackd/internal/types"
)

var (
	ErrStopped   = errors.New("tracker stopped")
	ErrNotMoving = errors.New("order is not out for delivery")
)

type Orders interface {
	Transition(ctx context.Context, cmd order.TransitionCommand) (*order.TransitionResult, error)
	ListMoving(ctx context.Context) ([]*order.Order, error)
}

type Positions interface {
	Record(ctx context.Context, o order.Order, s location.Sample) error
}

type Options struct {
	Window  time.Duration
	Tick    time.Duration
	Planner route.Planner
	Clock   clock.Clock
	Logger  *slog.Logger
}

// delivery is the running state of one tracked order.
type delivery struct {
	cancel context.CancelFunc
	status order.Status
}

type Tracker struct {
	orders    Orders
	positions Positions
	planner   route.Planner
	window    time.Duration
	tick      time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[types.ID]*delivery
	stopped bool
}

func New(orders Orders, positions Positions, opts Options) *Tracker {
	if opts.Window <= 0 {
		opts.Window = 90 * time.Second
	}
	if opts.Tick <= 0 {
		opts.Tick = 2 * time.Second
	}
	if opts.Planner == nil {
		opts.Planner = route.NewRandomPlanner(45, time.Now().UnixNano())
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Tracker{
		orders:    orders,
		positions: positions,
		planner:   opts.Planner,
		window:    opts.Window,
		tick:      opts.Tick,
		clock:     opts.Clock,
		logger:    opts.Logger,
		root:      root,
		cancel:    cancel,
		active:    make(map[types.ID]*delivery),
	}
}

// Track starts ticking o unless it is already tracked. The transit window
// is measured from the order's picked_up stamp.
func (t *Tracker) Track(o order.Order) error {
	if !o.Status.Moving() {
		return ErrNotMoving
	}
	start := t.clock.Now()
	if st, ok := o.StampFor(order.StatusPickedUp); ok {
		start = st.At
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrStopped
	}
	if d, ok := t.active[o.ID]; ok {
		d.status = o.Status
		return nil
	}
	ctx, cancel := context.WithCancel(t.root)
	d := &delivery{cancel: cancel, status: o.Status}
	t.active[o.ID] = d
	metrics.ActiveTrackers.Inc()

	t.wg.Add(1)
	go t.run(ctx, d, o, start)
	return nil
}

// Tracking reports whether o currently has a running tick.
func (t *Tracker) Tracking(id types.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

// Resume re-tracks orders that were moving when the process last stopped.
func (t *Tracker) Resume(ctx context.Context) error {
	moving, err := t.orders.ListMoving(ctx)
	if err != nil {
		return err
	}
	for _, o := range moving {
		if err := t.Track(*o); err != nil {
			return err
		}
	}
	t.logger.Info("tracker resumed", "orders", len(moving))
	return nil
}

// OnStatusChanged starts tracking at pickup and stops it the moment an
// order leaves the moving states.
func (t *Tracker) OnStatusChanged(_ context.Context, change order.StatusChange, o order.Order) {
	if change.NewStatus.Moving() {
		if err := t.Track(o); err != nil && !errors.Is(err, ErrStopped) {
			t.logger.Warn("start tracking", "order_id", o.ID, "error", err)
		}
		return
	}
	t.release(change.OrderID, nil)
}

// Stop cancels every tick and waits for the goroutines to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}

// release removes id from the active set. With d non-nil only that exact
// delivery is removed.
func (t *Tracker) release(id types.ID, d *delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.active[id]
	if !ok || (d != nil && cur != d) {
		return
	}
	cur.cancel()
	delete(t.active, id)
	metrics.ActiveTrackers.Dec()
}

func (t *Tracker) run(ctx context.Context, d *delivery, o order.Order, start time.Time) {
	defer t.wg.Done()
	defer t.release(o.ID, d)

	path, err := t.planner.Path(ctx, o.Origin, o.Destination)
	if err != nil || len(path) == 0 {
		t.logger.Warn("plan path", "order_id", o.ID, "error", err)
		path = route.Path{o.Origin, o.Destination}
	}

	ticker := t.clock.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if t.step(ctx, d, o, path, start) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step publishes the current waypoint and reports true once the order has
// been completed.
func (t *Tracker) step(ctx context.Context, d *delivery, o order.Order, path route.Path, start time.Time) bool {
	now := t.clock.Now()
	progress := route.ElapsedToProgress(start, now, t.window)
	smp := location.Sample{
		OrderID:    o.ID,
		DriverID:   o.Driver(),
		Position:   route.Sample(path, progress),
		Progress:   &progress,
		Source:     location.SourceSimulated,
		RecordedAt: now,
	}
	if err := t.positions.Record(ctx, o, smp); err != nil && !errors.Is(err, location.ErrStaleSample) {
		t.logger.Warn("record simulated position", "order_id", o.ID, "error", err)
	}
	if progress < 1 {
		return false
	}
	return t.complete(ctx, d, o)
}

// complete advances the order to delivered as the system actor and reports
// whether the delivery is finished. A failed transition leaves it false so
// the next tick retries; an order someone else already finished counts as
// done.
func (t *Tracker) complete(ctx context.Context, d *delivery, o order.Order) bool {
	t.mu.Lock()
	status := d.status
	t.mu.Unlock()

	if status == order.StatusPickedUp {
		_, err := t.orders.Transition(ctx, order.TransitionCommand{
			OrderID: o.ID, To: order.StatusOnTheWay, Actor: types.RoleSystem,
		})
		switch {
		case err == nil, errors.Is(err, order.ErrInvalidTransition):
		case errors.Is(err, order.ErrTerminalState):
			return true
		default:
			t.logger.Warn("advance to on_the_way, retrying next tick", "order_id", o.ID, "error", err)
			return false
		}
	}
	_, err := t.orders.Transition(ctx, order.TransitionCommand{
		OrderID: o.ID, To: order.StatusDelivered, Actor: types.RoleSystem,
	})
	switch {
	case err == nil:
	case errors.Is(err, order.ErrTerminalState), errors.Is(err, order.ErrInvalidTransition):
		t.logger.Debug("delivery finished elsewhere", "order_id", o.ID, "error", err)
		return true
	default:
		t.logger.Warn("complete delivery, retrying next tick", "order_id", o.ID, "error", err)
		return false
	}
	metrics.DeliveriesCompleted.Inc()
	t.logger.Info("delivery completed", "order_id", o.ID)
	return true
}
