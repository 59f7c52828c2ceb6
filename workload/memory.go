package workload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MemoryStore is a Store kept entirely in memory.
// A single mutex serializes writers, which gives every method the atomicity Store requires.
type MemoryStore struct {
	mu sync.RWMutex

	workloads map[int64]Workload
	orders    map[int64]Order

	lastWorkloadID int64
	lastOrderID    int64
}

// MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workloads: make(map[int64]Workload),
		orders:    make(map[int64]Order),
	}
}

func (m *MemoryStore) CreateWorkload(_ context.Context, w Workload) (Workload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nameTaken(w.Tenant, w.Name, 0) {
		return Workload{}, fmt.Errorf("%w: '%s'", ErrDuplicateName, w.Name)
	}

	m.lastWorkloadID += 1
	w.ID = m.lastWorkloadID
	w.Deleted = false
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	m.workloads[w.ID] = w
	return w, nil
}

func (m *MemoryStore) GetWorkload(_ context.Context, tenant string, id int64) (Workload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workloads[id]
	if !ok || w.Deleted || w.Tenant != tenant {
		return Workload{}, fmt.Errorf("workload %d: %w", id, ErrNotFound)
	}
	return w, nil
}

func (m *MemoryStore) ListWorkloads(_ context.Context, filter WorkloadFilter) ([]Workload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	workloads := lo.Filter(lo.Values(m.workloads), func(w Workload, _ int) bool {
		return m.workloadMatches(w, filter.Tenant, filter.PriorityBelow)
	})
	sortWorkloads(workloads)
	return workloads, nil
}

func (m *MemoryStore) UpdateWorkload(_ context.Context, w Workload) (Workload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.workloads[w.ID]
	if !ok || current.Deleted || current.Tenant != w.Tenant {
		return Workload{}, fmt.Errorf("workload %d: %w", w.ID, ErrNotFound)
	}
	if current.Name != w.Name && m.nameTaken(w.Tenant, w.Name, w.ID) {
		return Workload{}, fmt.Errorf("%w: '%s'", ErrDuplicateName, w.Name)
	}

	current.Name = w.Name
	current.Priority = w.Priority
	m.workloads[w.ID] = current
	return current, nil
}

func (m *MemoryStore) TouchWorkload(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workloads[id]
	if !ok || w.Deleted {
		return fmt.Errorf("workload %d: %w", id, ErrNotFound)
	}
	w.LastCheckin = at
	m.workloads[id] = w
	return nil
}

func (m *MemoryStore) DeleteWorkload(_ context.Context, tenant string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workloads[id]
	if !ok || w.Deleted || w.Tenant != tenant {
		return fmt.Errorf("workload %d: %w", id, ErrNotFound)
	}
	w.Deleted = true
	m.workloads[id] = w
	return nil
}

func (m *MemoryStore) ListTenants(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := lo.Uniq(lo.FilterMap(lo.Values(m.workloads), func(w Workload, _ int) (string, bool) {
		return w.Tenant, !w.Deleted
	}))
	sort.Strings(tenants)
	return tenants, nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o Order, unless *OrderFilter) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workloads[o.WorkloadID]; !ok || w.Deleted {
		return Order{}, fmt.Errorf("workload %d: %w", o.WorkloadID, ErrNotFound)
	}

	if unless != nil {
		scoped := *unless
		scoped.WorkloadID = o.WorkloadID
		if len(m.listOrders(scoped)) > 0 {
			return Order{}, ErrConflict
		}
	}

	m.lastOrderID += 1
	o.ID = m.lastOrderID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = o
	return o, nil
}

func (m *MemoryStore) GetOrder(_ context.Context, workloadID, id int64) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok || o.WorkloadID != workloadID {
		return Order{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return o, nil
}

func (m *MemoryStore) ListOrders(_ context.Context, filter OrderFilter) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listOrders(filter), nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o Order, expect OrderStatus, unless *OrderFilter) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.orders[o.ID]
	if !ok || current.WorkloadID != o.WorkloadID {
		return Order{}, fmt.Errorf("order %d: %w", o.ID, ErrNotFound)
	}
	if current.Status != expect {
		return Order{}, fmt.Errorf("order %d is %s, expected %s: %w", o.ID, current.Status, expect, ErrConflict)
	}
	if unless != nil {
		scoped := *unless
		scoped.WorkloadID = o.WorkloadID
		scoped.ExceptID = o.ID
		if len(m.listOrders(scoped)) > 0 {
			return Order{}, fmt.Errorf("order %d: %w", o.ID, ErrConflict)
		}
	}

	current.Instances = o.Instances
	current.MemoryMB = o.MemoryMB
	current.Status = o.Status
	current.UpdatedAt = lo.Ternary(o.UpdatedAt.IsZero(), time.Now(), o.UpdatedAt)
	m.orders[o.ID] = current
	return current, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// listOrders must be called with the lock held.
func (m *MemoryStore) listOrders(filter OrderFilter) []Order {
	orders := lo.Filter(lo.Values(m.orders), func(o Order, _ int) bool {
		w, ok := m.workloads[o.WorkloadID]
		if !ok || !m.workloadMatches(w, filter.Tenant, filter.PriorityBelow) {
			return false
		}
		return filter.Matches(o)
	})

	sort.Slice(orders, func(i, j int) bool {
		pi, pj := m.workloads[orders[i].WorkloadID].Priority, m.workloads[orders[j].WorkloadID].Priority
		if pi != pj {
			return pi < pj
		}
		return orders[i].ID < orders[j].ID
	})

	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders
}

func (m *MemoryStore) workloadMatches(w Workload, tenant string, priorityBelow *int) bool {
	if w.Deleted {
		return false
	}
	if tenant != "" && w.Tenant != tenant {
		return false
	}
	if priorityBelow != nil && w.Priority >= *priorityBelow {
		return false
	}
	return true
}

func (m *MemoryStore) nameTaken(tenant, name string, except int64) bool {
	return lo.SomeBy(lo.Values(m.workloads), func(w Workload) bool {
		return !w.Deleted && w.ID != except && w.Tenant == tenant && w.Name == name
	})
}

func sortWorkloads(workloads []Workload) {
	sort.Slice(workloads, func(i, j int) bool {
		if workloads[i].Priority != workloads[j].Priority {
			return workloads[i].Priority < workloads[j].Priority
		}
		return workloads[i].ID < workloads[j].ID
	})
}
