package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammadia/workloads/metrics"
	"github.com/gammadia/workloads/quota"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// createOrder requests a new order for the workload.
//
// Growth orders are refused while the workload already has an outstanding growth order, and are
// created OPEN only when the tenant quota leaves headroom for them; otherwise they wait as
// PENDING for a sweep. Shrink orders skip the quota and are created OPEN.
func (s *Scheduler) createOrder(ctx context.Context, w workload.Workload, change OrderChange) (workload.Order, error) {
	order := workload.Order{
		WorkloadID: w.ID,
		Instances:  lo.FromPtr(change.Instances),
		MemoryMB:   max(lo.FromPtr(change.MemoryMB), 0),
		CreatedAt:  s.now(),
	}
	if order.Instances == 0 {
		order.Instances = 1
	}

	if order.Shrinks() {
		order.Status = workload.OrderStatusOpen
		created, err := s.store.CreateOrder(ctx, order, workload.OutstandingShrink(w.ID))
		if errors.Is(err, workload.ErrConflict) {
			metrics.RecordOrderRejected("outstanding-shrink")
			return workload.Order{}, ErrOutstandingShrink
		} else if err != nil {
			return workload.Order{}, fmt.Errorf("failed to create order for workload '%s': %w", w.Name, err)
		}

		metrics.RecordOrderCreated(created.Status.String(), "client")
		s.log.Info("Created shrink order", "workload", w.Name, "order", created.ID, "instances", created.Instances)
		return created, nil
	}

	outstanding, err := s.store.ListOrders(ctx, *workload.OutstandingGrowth(w.ID))
	if err != nil {
		return workload.Order{}, fmt.Errorf("failed to list orders of workload '%s': %w", w.Name, err)
	}
	if len(outstanding) > 0 {
		metrics.RecordOrderRejected("outstanding-growth")
		return workload.Order{}, ErrOutstandingGrowth
	}

	admitted, projections, err := s.admits(ctx, w.Tenant, order)
	if err != nil {
		return workload.Order{}, err
	}
	order.Status = lo.Ternary(admitted, workload.OrderStatusOpen, workload.OrderStatusPending)

	// The guard is checked again by the store, atomically with the insert
	created, err := s.store.CreateOrder(ctx, order, workload.OutstandingGrowth(w.ID))
	if errors.Is(err, workload.ErrConflict) {
		metrics.RecordOrderRejected("outstanding-growth")
		return workload.Order{}, ErrOutstandingGrowth
	} else if err != nil {
		return workload.Order{}, fmt.Errorf("failed to create order for workload '%s': %w", w.Name, err)
	}

	metrics.RecordOrderCreated(created.Status.String(), "client")
	s.log.Info("Created growth order",
		"workload", w.Name,
		"order", created.ID,
		"instances", created.Instances,
		"status", created.Status,
		"quota", lo.Map(projections, func(p quota.Projection, _ int) string { return p.String() }),
	)
	return created, nil
}

// Sweep opens the pending orders of a tenant that now fit its quota, most precedent workload
// first. The quota is fetched again for every order, so that admissions made earlier in the
// same pass are accounted for.
func (s *Scheduler) Sweep(ctx context.Context, tenant string) (int, error) {
	pending, err := s.store.ListOrders(ctx, workload.OrderFilter{
		Tenant:   tenant,
		Statuses: []workload.OrderStatus{workload.OrderStatusPending},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending orders of tenant '%s': %w", tenant, err)
	}

	opened := 0
	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			return opened, err
		}

		admitted := true
		if order.Grows() {
			if admitted, _, err = s.admits(ctx, tenant, order); err != nil {
				return opened, err
			}
		}
		if !admitted {
			continue
		}

		order.Status = workload.OrderStatusOpen
		order.UpdatedAt = s.now()
		if _, err := s.store.UpdateOrder(ctx, order, workload.OrderStatusPending, nil); errors.Is(err, workload.ErrConflict) || errors.Is(err, workload.ErrNotFound) {
			s.log.Debug("Pending order changed during sweep", "order", order.ID, "error", err)
			continue
		} else if err != nil {
			return opened, fmt.Errorf("failed to open order %d: %w", order.ID, err)
		}

		opened += 1
		metrics.RecordAdmission()
		s.log.Info("Admitted pending order", "tenant", tenant, "order", order.ID, "instances", order.Instances)
	}

	return opened, nil
}

// SweepAll sweeps every tenant owning a live workload. Tenants are independent and are swept
// concurrently; a failing tenant does not stop the others.
func (s *Scheduler) SweepAll(ctx context.Context) (int, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tenants: %w", err)
	}

	opened := make([]int, len(tenants))
	failures := make([]error, len(tenants))

	var g errgroup.Group
	g.SetLimit(max(s.config.SweepConcurrency, 1))
	for i, tenant := range tenants {
		g.Go(func() error {
			opened[i], failures[i] = s.Sweep(ctx, tenant)
			return nil
		})
	}
	_ = g.Wait()

	return lo.Sum(opened), errors.Join(failures...)
}

func (s *Scheduler) admits(ctx context.Context, tenant string, order workload.Order) (bool, []quota.Projection, error) {
	snapshot, err := s.oracle.Quota(ctx, tenant)
	if err != nil {
		return false, nil, fmt.Errorf("failed to get quota of tenant '%s': %w", tenant, err)
	}

	request := quota.Request{Instances: order.Instances, MemoryMB: order.EffectiveMemoryMB()}
	return snapshot.Admits(request), snapshot.Project(request), nil
}
