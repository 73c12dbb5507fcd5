// README: Order service orchestrates transitions: persist, then publish, then side effects.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trackd/internal/clock"
	"trackd/internal/metrics"
	"trackd/internal/realtime"
	"trackd/internal/types"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrConflict      = errors.New("order state conflict")
	ErrBadRequest    = errors.New("bad request")
	ErrNotActionable = errors.New("order not in an announceable state")
)

// Repository is the durable order record. UpdateStatus persists o (status,
// driver binding and the newest history stamp) only if the stored version
// still equals fromVersion.
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Order, error)
	UpdateStatus(ctx context.Context, o *Order, fromVersion int) (bool, error)
	ListForViewer(ctx context.Context, viewer Viewer) ([]*Order, error)
	ListMoving(ctx context.Context) ([]*Order, error)
	ListDueScheduled(ctx context.Context, before time.Time) ([]*Order, error)
}

type Publisher interface {
	Publish(t realtime.Topic, ev realtime.Event) int
	PublishMulti(topics []realtime.Topic, ev realtime.Event) int
}

// Observer receives every committed transition after it has been
// published. Implementations must not block the caller.
type Observer interface {
	OnStatusChanged(ctx context.Context, change StatusChange, o Order)
}

type ObserverFunc func(ctx context.Context, change StatusChange, o Order)

func (f ObserverFunc) OnStatusChanged(ctx context.Context, change StatusChange, o Order) {
	f(ctx, change, o)
}

// Viewer selects whose orders a listing returns.
type Viewer struct {
	ID   types.ID
	Role types.Role
}

type TransitionCommand struct {
	OrderID  types.ID
	To       Status
	Actor    types.Role
	ActorID  types.ID
	DriverID types.ID
}

type TransitionResult struct {
	Order     Order
	Change    StatusChange
	Delivered int
}

type ServiceOptions struct {
	Guard  AnnounceGuard
	Clock  clock.Clock
	Logger *slog.Logger
}

type Service struct {
	repo      Repository
	pub       Publisher
	guard     AnnounceGuard
	observers []Observer
	clock     clock.Clock
	logger    *slog.Logger
}

func NewService(repo Repository, pub Publisher, opts ServiceOptions) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Guard == nil {
		opts.Guard = NewMemoryGuard()
	}
	return &Service{
		repo:   repo,
		pub:    pub,
		guard:  opts.Guard,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
}

// AddObserver must be called before the service starts taking traffic.
func (s *Service) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) ListForViewer(ctx context.Context, viewer Viewer) ([]*Order, error) {
	if viewer.ID == "" && viewer.Role != types.RoleAdmin {
		return nil, ErrBadRequest
	}
	return s.repo.ListForViewer(ctx, viewer)
}

func (s *Service) ListMoving(ctx context.Context) ([]*Order, error) {
	return s.repo.ListMoving(ctx)
}

// Transition validates, persists and only then announces one status change.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	if cmd.OrderID == "" || cmd.To == "" {
		return nil, ErrBadRequest
	}
	cur, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	next, eta, err := ApplyTransition(*cur, TransitionRequest{
		To:       cmd.To,
		Actor:    cmd.Actor,
		ActorID:  cmd.ActorID,
		DriverID: cmd.DriverID,
	}, s.clock.Now())
	if err != nil {
		metrics.Transitions.WithLabelValues(string(cmd.To), "rejected").Inc()
		return nil, err
	}

	ok, err := s.repo.UpdateStatus(ctx, &next, cur.StatusVersion)
	if err != nil {
		metrics.Transitions.WithLabelValues(string(cmd.To), "error").Inc()
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	if !ok {
		metrics.Transitions.WithLabelValues(string(cmd.To), "conflict").Inc()
		return nil, ErrConflict
	}
	next.StatusVersion = cur.StatusVersion + 1
	metrics.Transitions.WithLabelValues(string(cmd.To), "ok").Inc()

	change := StatusChange{
		OrderID:      next.ID,
		OldStatus:    cur.Status,
		NewStatus:    next.Status,
		Timestamps:   append([]StatusStamp(nil), next.History...),
		ETAMinutes:   int(eta.Minutes()),
		CustomerID:   next.CustomerID,
		RestaurantID: next.RestaurantID,
		DriverID:     next.Driver(),
		Actor:        cmd.Actor,
		At:           next.History[len(next.History)-1].At,
	}
	delivered := s.pub.PublishMulti(StatusTopics(next), realtime.Event{
		Type: realtime.EventStatusChanged,
		Data: change,
	})
	s.logger.Info("order status changed",
		"order_id", next.ID,
		"from", cur.Status,
		"to", next.Status,
		"actor", cmd.Actor,
		"delivered", delivered,
	)

	detached := context.WithoutCancel(ctx)
	for _, obs := range s.observers {
		obs.OnStatusChanged(detached, change, next.Clone())
	}
	return &TransitionResult{Order: next, Change: change, Delivered: delivered}, nil
}

// StatusTopics lists every topic interested in a status change of o.
func StatusTopics(o Order) []realtime.Topic {
	topics := []realtime.Topic{
		realtime.OrderTopic(o.ID),
		realtime.UserTopic(o.CustomerID),
		realtime.RestaurantTopic(o.RestaurantID),
	}
	if d := o.Driver(); d != "" {
		topics = append(topics, realtime.DriverTopic(d))
	}
	return topics
}
