// Package polldiff turns repeated order snapshots into change notifications
// for clients that poll instead of holding a live connection.
package polldiff

import (
	"trackd/internal/modules/order"
	"trackd/internal/types"
)

type Snapshot struct {
	OrderID types.ID     `json:"order_id"`
	Status  order.Status `json:"status"`
}

// Change is emitted once per observed transition. OldStatus is empty the
// first time a viewer sees an order.
type Change struct {
	OrderID   types.ID     `json:"order_id"`
	OldStatus order.Status `json:"old_status,omitempty"`
	NewStatus order.Status `json:"new_status"`
}

// Detector remembers the last status one viewer was told about per order.
// It is not safe for concurrent use; Sessions serialises access per viewer.
type Detector struct {
	observed map[types.ID]order.Status
}

func NewDetector() *Detector {
	return &Detector{observed: make(map[types.ID]order.Status)}
}

// DetectChanges reports every order in latest whose status differs from
// the one previously observed, then records the new status. Calling it
// again with the same snapshot returns nothing.
func (d *Detector) DetectChanges(latest []Snapshot) []Change {
	var changes []Change
	for _, s := range latest {
		prev, seen := d.observed[s.OrderID]
		if seen && prev == s.Status {
			continue
		}
		changes = append(changes, Change{OrderID: s.OrderID, OldStatus: prev, NewStatus: s.Status})
		d.observed[s.OrderID] = s.Status
	}
	return changes
}

// Observed returns the last status recorded for id.
func (d *Detector) Observed(id types.ID) (order.Status, bool) {
	st, ok := d.observed[id]
	return st, ok
}

// Pending drops snapshots already in a terminal status; callers may stop
// polling those.
func Pending(latest []Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(latest))
	for _, s := range latest {
		if !s.Status.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

func FromOrders(orders []*order.Order) []Snapshot {
	out := make([]Snapshot, 0, len(orders))
	for _, o := range orders {
		out = append(out, Snapshot{OrderID: o.ID, Status: o.Status})
	}
	return out
}
