// README: In-memory Repository used for local runs without Postgres and in tests.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"trackd/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	orders map[types.ID]Order

	failUpdates error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]Order)}
}

// FailUpdates makes UpdateStatus return err until it is called again with
// nil. Tests use it to simulate a failing database.
func (m *MemoryStore) FailUpdates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpdates = err
}

func (m *MemoryStore) Put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := o.Clone()
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, o *Order, fromVersion int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates != nil {
		return false, m.failUpdates
	}
	cur, ok := m.orders[o.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.StatusVersion != fromVersion {
		return false, nil
	}
	next := o.Clone()
	next.StatusVersion = fromVersion + 1
	m.orders[o.ID] = next
	return true, nil
}

func (m *MemoryStore) ListForViewer(_ context.Context, viewer Viewer) ([]*Order, error) {
	return m.list(func(o Order) bool {
		switch viewer.Role {
		case types.RoleAdmin, types.RoleSystem:
			return true
		case types.RoleRestaurant:
			return o.RestaurantID == viewer.ID
		case types.RoleDriver:
			return o.Driver() == viewer.ID
		default:
			return o.CustomerID == viewer.ID
		}
	}), nil
}

func (m *MemoryStore) ListMoving(context.Context) ([]*Order, error) {
	return m.list(func(o Order) bool { return o.Status.Moving() }), nil
}

func (m *MemoryStore) ListDueScheduled(_ context.Context, before time.Time) ([]*Order, error) {
	return m.list(func(o Order) bool {
		return o.Status == StatusScheduled && o.ScheduledAt != nil && !o.ScheduledAt.After(before)
	}), nil
}

func (m *MemoryStore) list(keep func(Order) bool) []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if keep(o) {
			cp := o.Clone()
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > listLimit {
		out = out[:listLimit]
	}
	return out
}
