// Package scheduler admits orders against tenant quotas, reclaims capacity from lower-priority
// workloads and serves the workload read and write paths.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gammadia/workloads/metrics"
	"github.com/gammadia/workloads/quota"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
)

var (
	ErrOutstandingGrowth = errors.New("workload already has a pending or open growth order")
	ErrOutstandingShrink = errors.New("workload already has an outstanding shrink order")
)

type Scheduler struct {
	store  workload.Store
	oracle quota.Oracle
	config Config
	log    *slog.Logger
}

func New(store workload.Store, oracle quota.Oracle, config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Scheduler{
		store:  store,
		oracle: oracle,
		config: config,
		log:    config.Logger.With("component", "scheduler"),
	}
}

// Summary is a workload as listed to its tenant, with what currently runs for it.
type Summary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Resident
}

type InspectOptions struct {
	// Checkpoint throttles sweeps together with Config.SweepMinInterval.
	Checkpoint *Checkpoint
	// Checkin records that the workload's agent is alive.
	Checkin bool
}

type WorkloadChange struct {
	Name     *string `json:"name,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

// OrderChange amends the order with the given ID, or requests a new order when ID is nil.
type OrderChange struct {
	ID        *int64  `json:"id,omitempty"`
	Instances *int    `json:"instances,omitempty"`
	MemoryMB  *int    `json:"memory_mb,omitempty"`
	Status    *string `json:"status,omitempty"`
}

type UpdateRequest struct {
	Workload *WorkloadChange `json:"workload,omitempty"`
	Orders   []OrderChange   `json:"order,omitempty"`
}

type UpdateResult struct {
	Workload workload.Workload `json:"workload"`
	Orders   []workload.Order  `json:"order"`
}

// RegisterWorkload creates a workload. A zero priority registers it with DefaultPriority.
func (s *Scheduler) RegisterWorkload(ctx context.Context, tenant, name string, priority int) (workload.Workload, error) {
	if err := workload.ValidateName(name); err != nil {
		return workload.Workload{}, err
	}

	w, err := s.store.CreateWorkload(ctx, workload.Workload{
		Tenant:    tenant,
		Name:      name,
		Priority:  lo.Ternary(priority == 0, workload.DefaultPriority, priority),
		CreatedAt: s.now(),
	})
	if err != nil {
		return workload.Workload{}, fmt.Errorf("failed to register workload '%s': %w", name, err)
	}

	s.log.Info("Registered workload", "tenant", tenant, "workload", w.Name, "id", w.ID, "priority", w.Priority)
	return w, nil
}

func (s *Scheduler) ListWorkloads(ctx context.Context, tenant string) ([]Summary, error) {
	workloads, err := s.store.ListWorkloads(ctx, workload.WorkloadFilter{Tenant: tenant})
	if err != nil {
		return nil, fmt.Errorf("failed to list workloads: %w", err)
	}

	resident := map[string]Resident{}
	if s.config.Inventory != nil && len(workloads) > 0 {
		names := lo.Map(workloads, func(w workload.Workload, _ int) string { return w.Name })
		if resident, err = s.config.Inventory.Resident(ctx, tenant, names); err != nil {
			s.log.Warn("Failed to count resident instances", "tenant", tenant, "error", err)
			resident = map[string]Resident{}
		}
	}

	return lo.Map(workloads, func(w workload.Workload, _ int) Summary {
		return Summary{
			ID:       w.ID,
			Name:     w.Name,
			Priority: w.Priority,
			Resident: resident[w.Name],
		}
	}), nil
}

// Inspect is the read path of a workload. It sweeps the tenant's pending orders, gives the
// workload a shrink order if a more precedent workload is blocked on quota, and returns the
// workload's open orders.
func (s *Scheduler) Inspect(ctx context.Context, tenant string, id int64, opts InspectOptions) ([]workload.Order, error) {
	w, err := s.store.GetWorkload(ctx, tenant, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if opts.Checkin {
		if err := s.store.TouchWorkload(ctx, w.ID, now); err != nil {
			return nil, fmt.Errorf("failed to record checkin of workload '%s': %w", w.Name, err)
		}
	}

	swept := false
	if opts.Checkpoint.Due(tenant, now, s.config.SweepMinInterval) {
		// A failed sweep leaves orders pending for the next one; the open orders are still served.
		if _, err := s.Sweep(ctx, tenant); err != nil {
			s.log.Warn("Sweep failed", "tenant", tenant, "error", err)
		} else {
			opts.Checkpoint.Mark(tenant, now)
			swept = true
		}
	}

	// Pending orders are only known to be blocked right after a sweep
	if swept {
		if _, err := s.preempt(ctx, w); err != nil {
			return nil, err
		}
	}

	orders, err := s.store.ListOrders(ctx, workload.OrderFilter{
		WorkloadID: w.ID,
		Statuses:   []workload.OrderStatus{workload.OrderStatusOpen},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders of workload '%s': %w", w.Name, err)
	}
	return orders, nil
}

// Update applies a workload change first, then every order change in turn. It stops at the
// first failing change; changes applied before it are kept.
func (s *Scheduler) Update(ctx context.Context, tenant string, id int64, req UpdateRequest) (UpdateResult, error) {
	w, err := s.store.GetWorkload(ctx, tenant, id)
	if err != nil {
		return UpdateResult{}, err
	}

	if req.Workload != nil {
		if w, err = s.updateWorkload(ctx, w, *req.Workload); err != nil {
			return UpdateResult{Workload: w}, err
		}
	}

	result := UpdateResult{Workload: w, Orders: []workload.Order{}}
	for _, change := range req.Orders {
		var order workload.Order

		switch {
		case change.ID != nil:
			order, err = s.amendOrder(ctx, w, change)
		case change.Instances != nil || change.MemoryMB != nil:
			order, err = s.createOrder(ctx, w, change)
		default:
			continue
		}
		if err != nil {
			return result, err
		}

		result.Orders = append(result.Orders, order)
	}

	return result, nil
}

func (s *Scheduler) DeleteWorkload(ctx context.Context, tenant string, id int64) error {
	if err := s.store.DeleteWorkload(ctx, tenant, id); err != nil {
		return fmt.Errorf("failed to delete workload %d: %w", id, err)
	}

	s.log.Info("Deleted workload", "tenant", tenant, "id", id)
	return nil
}

func (s *Scheduler) updateWorkload(ctx context.Context, w workload.Workload, change WorkloadChange) (workload.Workload, error) {
	if change.Name != nil {
		if err := workload.ValidateName(*change.Name); err != nil {
			return w, err
		}
		w.Name = *change.Name
	}
	// Zero means unset, as on registration
	if change.Priority != nil && *change.Priority != 0 {
		w.Priority = *change.Priority
	}

	updated, err := s.store.UpdateWorkload(ctx, w)
	if err != nil {
		return w, fmt.Errorf("failed to update workload %d: %w", w.ID, err)
	}
	return updated, nil
}

// amendOrder changes instances and memory only while the order is open or pending; a status
// override is applied to any order that is not terminal yet.
func (s *Scheduler) amendOrder(ctx context.Context, w workload.Workload, change OrderChange) (workload.Order, error) {
	current, err := s.store.GetOrder(ctx, w.ID, *change.ID)
	if err != nil {
		return workload.Order{}, err
	}
	if current.Status.Terminal() {
		return current, fmt.Errorf("failed to amend order %d: %w", current.ID, workload.ErrTerminal)
	}

	amended := current
	if current.Status == workload.OrderStatusOpen || current.Status == workload.OrderStatusPending {
		if change.Instances != nil && *change.Instances != 0 {
			amended.Instances = *change.Instances
		}
		if change.MemoryMB != nil && *change.MemoryMB != 0 {
			amended.MemoryMB = *change.MemoryMB
		}
	}
	if change.Status != nil {
		status, err := workload.ParseOrderStatus(*change.Status)
		if err != nil {
			return current, err
		}
		if err := workload.CanOverride(current.Status, status); err != nil {
			return current, err
		}
		amended.Status = status
	}

	// An order that becomes outstanding growth or shrink is held to the same guards as a new one
	var unless *workload.OrderFilter
	var refused error
	var reason string
	switch {
	case becomes(workload.OutstandingGrowth(w.ID), current, amended):
		unless, refused, reason = workload.OutstandingGrowth(w.ID), ErrOutstandingGrowth, "outstanding-growth"
	case becomes(workload.OutstandingShrink(w.ID), current, amended):
		unless, refused, reason = workload.OutstandingShrink(w.ID), ErrOutstandingShrink, "outstanding-shrink"
	}

	amended.UpdatedAt = s.now()
	updated, err := s.store.UpdateOrder(ctx, amended, current.Status, unless)
	if errors.Is(err, workload.ErrConflict) && unless != nil {
		others := *unless
		others.ExceptID = current.ID
		if outstanding, listErr := s.store.ListOrders(ctx, others); listErr == nil && len(outstanding) > 0 {
			metrics.RecordOrderRejected(reason)
			return current, refused
		}
	}
	if err != nil {
		return current, fmt.Errorf("failed to amend order %d: %w", current.ID, err)
	}

	if updated.Status != current.Status {
		s.log.Info("Order status changed", "workload", w.Name, "order", updated.ID, "from", current.Status, "to", updated.Status)
	}
	return updated, nil
}

// becomes reports whether the amended order matches filter while the current one does not.
func becomes(filter *workload.OrderFilter, current, amended workload.Order) bool {
	return filter.Matches(amended) && !filter.Matches(current)
}

func (s *Scheduler) now() time.Time {
	if s.config.Clock == nil {
		return time.Now()
	}
	return s.config.Clock.Now()
}
