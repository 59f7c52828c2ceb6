package workload

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflicting order")
	ErrTerminal      = errors.New("order is terminal")
	ErrDuplicateName = errors.New("workload name already in use")
	ErrInvalidStatus = errors.New("invalid order status")
	ErrInvalidName   = errors.New("invalid workload name")
)

// Store persists workloads and their orders.
//
// Implementations must apply every method atomically: CreateOrder and UpdateOrder check their
// conflict filter and write in the same transaction, and UpdateOrder is a compare-and-set on
// the status.
type Store interface {
	CreateWorkload(ctx context.Context, w Workload) (Workload, error)
	// GetWorkload returns ErrNotFound for unknown and soft-deleted workloads.
	GetWorkload(ctx context.Context, tenant string, id int64) (Workload, error)
	ListWorkloads(ctx context.Context, filter WorkloadFilter) ([]Workload, error)
	UpdateWorkload(ctx context.Context, w Workload) (Workload, error)
	TouchWorkload(ctx context.Context, id int64, at time.Time) error
	DeleteWorkload(ctx context.Context, tenant string, id int64) error
	// ListTenants returns every tenant owning at least one live workload.
	ListTenants(ctx context.Context) ([]string, error)

	// CreateOrder inserts the order unless an order matching unless already exists, in which
	// case ErrConflict is returned. unless is implicitly scoped to the order's workload.
	CreateOrder(ctx context.Context, o Order, unless *OrderFilter) (Order, error)
	GetOrder(ctx context.Context, workloadID, id int64) (Order, error)
	// ListOrders returns orders of live workloads by ascending workload priority, then id.
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	// UpdateOrder writes instances, memory and status if the stored status still equals expect
	// and no other order of the workload matches unless. ErrConflict is returned otherwise.
	UpdateOrder(ctx context.Context, o Order, expect OrderStatus, unless *OrderFilter) (Order, error)

	Close() error
}

type WorkloadFilter struct {
	Tenant string
	// PriorityBelow keeps workloads whose priority is strictly lower (more precedent).
	PriorityBelow *int
}

type OrderFilter struct {
	Tenant        string
	WorkloadID    int64
	Statuses      []OrderStatus
	PriorityBelow *int
	MinInstances  *int
	MaxInstances  *int
	// ExceptID leaves out one order, usually the one being written.
	ExceptID int64
	Limit    int
}

// Matches applies the order-level part of the filter; tenant and priority are resolved by the store.
func (f OrderFilter) Matches(o Order) bool {
	if f.WorkloadID != 0 && o.WorkloadID != f.WorkloadID {
		return false
	}
	if f.ExceptID != 0 && o.ID == f.ExceptID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if o.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinInstances != nil && o.Instances < *f.MinInstances {
		return false
	}
	if f.MaxInstances != nil && o.Instances > *f.MaxInstances {
		return false
	}
	return true
}

// OutstandingGrowth selects growth orders that are still waiting to be executed.
func OutstandingGrowth(workloadID int64) *OrderFilter {
	return &OrderFilter{
		WorkloadID:   workloadID,
		Statuses:     []OrderStatus{OrderStatusOpen, OrderStatusPending},
		MinInstances: lo.ToPtr(1),
	}
}

// OutstandingShrink selects the shrink orders that make a workload ineligible for another one.
func OutstandingShrink(workloadID int64) *OrderFilter {
	return &OrderFilter{
		WorkloadID:   workloadID,
		Statuses:     []OrderStatus{OrderStatusOpen, OrderStatusWorking, OrderStatusPending},
		MaxInstances: lo.ToPtr(-1),
	}
}
