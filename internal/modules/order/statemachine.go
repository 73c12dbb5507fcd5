// README: Pure order state machine; validates and applies one transition.
package order

import (
	"errors"
	"time"

	"trackd/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminalState     = errors.New("order already in a terminal state")
	ErrNoDriverAssigned  = errors.New("pickup requires a driver")
	ErrUnauthorizedActor = errors.New("actor not permitted for this transition")
)

// TransitionRequest is what an actor asks for. ActorID is the caller's
// subject (or restaurant/driver scope); system actors may leave it empty.
type TransitionRequest struct {
	To       Status
	Actor    types.Role
	ActorID  types.ID
	DriverID types.ID
}

// ApplyTransition returns the updated copy of o and the ETA band for the
// new status. o itself is never modified.
func ApplyTransition(o Order, req TransitionRequest, now time.Time) (Order, time.Duration, error) {
	if o.Status.Terminal() {
		return o, 0, ErrTerminalState
	}
	if !CanTransition(o.Status, req.To) {
		return o, 0, ErrInvalidTransition
	}
	if err := authorize(o, req); err != nil {
		return o, 0, err
	}

	next := o.Clone()
	if o.Status == StatusReady && req.To == StatusPickedUp {
		if req.DriverID == "" {
			return o, 0, ErrNoDriverAssigned
		}
		if req.Actor == types.RoleDriver && req.ActorID != req.DriverID {
			return o, 0, ErrUnauthorizedActor
		}
		d := req.DriverID
		next.DriverID = &d
	}

	at := now
	if n := len(next.History); n > 0 && at.Before(next.History[n-1].At) {
		at = next.History[n-1].At
	}
	next.Status = req.To
	next.History = append(next.History, StatusStamp{Status: req.To, At: at})

	eta, _ := ETABand(req.To)
	return next, eta, nil
}

// authorize checks the role table and that non-admin actors own the order.
func authorize(o Order, req TransitionRequest) error {
	if !ActorAllowed(req.To, req.Actor) {
		return ErrUnauthorizedActor
	}
	switch req.Actor {
	case types.RoleAdmin, types.RoleSystem:
		return nil
	case types.RoleRestaurant:
		if req.ActorID != o.RestaurantID {
			return ErrUnauthorizedActor
		}
	case types.RoleCustomer:
		if req.ActorID != o.CustomerID {
			return ErrUnauthorizedActor
		}
	case types.RoleDriver:
		// Pickup binds the driver; afterwards only the bound driver may act.
		if o.DriverID != nil && *o.DriverID != req.ActorID {
			return ErrUnauthorizedActor
		}
		if o.DriverID == nil && req.To != StatusPickedUp {
			return ErrUnauthorizedActor
		}
	}
	return nil
}
