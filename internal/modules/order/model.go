// README: Order aggregate, status definitions and the canonical transition table.
package order

import (
	"time"

	"trackd/internal/types"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPlaced    Status = "placed"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusPickedUp  Status = "picked_up"
	StatusOnTheWay  Status = "on_the_way"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// StatusStamp records when a status was entered.
type StatusStamp struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

type Summary struct {
	Items int         `json:"items"`
	Total types.Money `json:"total"`
}

type Order struct {
	ID            types.ID
	CustomerID    types.ID
	RestaurantID  types.ID
	DriverID      *types.ID
	Status        Status
	StatusVersion int
	History       []StatusStamp
	Origin        types.Point
	Destination   types.Point
	Scheduled     bool
	ScheduledAt   *time.Time
	Summary       Summary
	CreatedAt     time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (o Order) Clone() Order {
	cp := o
	if o.DriverID != nil {
		d := *o.DriverID
		cp.DriverID = &d
	}
	if o.ScheduledAt != nil {
		at := *o.ScheduledAt
		cp.ScheduledAt = &at
	}
	cp.History = append([]StatusStamp(nil), o.History...)
	return cp
}

func (o Order) Driver() types.ID {
	if o.DriverID == nil {
		return ""
	}
	return *o.DriverID
}

// StampFor returns the stamp of status s if the order ever entered it.
func (o Order) StampFor(s Status) (StatusStamp, bool) {
	for _, st := range o.History {
		if st.Status == s {
			return st, true
		}
	}
	return StatusStamp{}, false
}

// StatusChange is the order.status_changed domain event.
type StatusChange struct {
	OrderID      types.ID      `json:"order_id"`
	OldStatus    Status        `json:"old_status"`
	NewStatus    Status        `json:"new_status"`
	Timestamps   []StatusStamp `json:"timestamps"`
	ETAMinutes   int           `json:"eta_minutes"`
	CustomerID   types.ID      `json:"customer_id"`
	RestaurantID types.ID      `json:"restaurant_id"`
	DriverID     types.ID      `json:"driver_id,omitempty"`
	Actor        types.Role    `json:"actor"`
	At           time.Time     `json:"at"`
}

// NewOrderNotice is the restaurant-only new_order payload.
type NewOrderNotice struct {
	RestaurantID types.ID   `json:"restaurant_id"`
	OrderID      types.ID   `json:"order_id"`
	Status       Status     `json:"status"`
	Summary      Summary    `json:"order_summary"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
}

// successors is the forward order as code; cancellation is handled separately.
var successors = map[Status]Status{
	StatusScheduled: StatusConfirmed,
	StatusPlaced:    StatusConfirmed,
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusPickedUp,
	StatusPickedUp:  StatusOnTheWay,
	StatusOnTheWay:  StatusDelivered,
}

var etaBands = map[Status]time.Duration{
	StatusPlaced:    45 * time.Minute,
	StatusConfirmed: 40 * time.Minute,
	StatusPreparing: 30 * time.Minute,
	StatusReady:     25 * time.Minute,
	StatusPickedUp:  20 * time.Minute,
	StatusOnTheWay:  10 * time.Minute,
	StatusDelivered: 0,
	StatusCancelled: 0,
}

var allowedActors = map[Status][]types.Role{
	StatusConfirmed: {types.RoleRestaurant, types.RoleAdmin, types.RoleSystem},
	StatusPreparing: {types.RoleRestaurant, types.RoleAdmin, types.RoleSystem},
	StatusReady:     {types.RoleRestaurant, types.RoleAdmin, types.RoleSystem},
	StatusPickedUp:  {types.RoleDriver, types.RoleAdmin, types.RoleSystem},
	StatusOnTheWay:  {types.RoleDriver, types.RoleAdmin, types.RoleSystem},
	StatusDelivered: {types.RoleDriver, types.RoleAdmin, types.RoleSystem},
	StatusCancelled: {types.RoleCustomer, types.RoleRestaurant, types.RoleAdmin, types.RoleSystem},
}

func (s Status) Valid() bool {
	_, hasNext := successors[s]
	return hasNext || s.Terminal()
}

func (s Status) Terminal() bool { return s == StatusDelivered || s == StatusCancelled }

// Moving reports whether the driver is carrying the order.
func (s Status) Moving() bool { return s == StatusPickedUp || s == StatusOnTheWay }

// Successor returns the only forward status reachable from s.
func Successor(s Status) (Status, bool) {
	next, ok := successors[s]
	return next, ok
}

func CanTransition(from, to Status) bool {
	if from.Terminal() || !from.Valid() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	next, ok := successors[from]
	return ok && next == to
}

// ETABand is the fixed remaining-time estimate for s. Scheduled orders have
// no band until they leave scheduled.
func ETABand(s Status) (time.Duration, bool) {
	d, ok := etaBands[s]
	return d, ok
}

func ActorAllowed(to Status, role types.Role) bool {
	for _, r := range allowedActors[to] {
		if r == role {
			return true
		}
	}
	return false
}
