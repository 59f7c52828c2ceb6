package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammadia/workloads/metrics"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
)

// preempt gives w a shrink order matching the first growth order of a more precedent workload
// of the same tenant that is blocked on quota. At most one shrink order is created per call, and
// none while w already has an outstanding one.
func (s *Scheduler) preempt(ctx context.Context, w workload.Workload) (*workload.Order, error) {
	shrinking, err := s.store.ListOrders(ctx, *workload.OutstandingShrink(w.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders of workload '%s': %w", w.Name, err)
	}
	if len(shrinking) > 0 {
		return nil, nil
	}

	blocked, err := s.store.ListOrders(ctx, workload.OrderFilter{
		Tenant:        w.Tenant,
		Statuses:      []workload.OrderStatus{workload.OrderStatusPending},
		PriorityBelow: lo.ToPtr(w.Priority),
		MinInstances:  lo.ToPtr(1),
		Limit:         1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked orders of tenant '%s': %w", w.Tenant, err)
	}
	if len(blocked) == 0 {
		return nil, nil
	}

	shrink, err := s.store.CreateOrder(ctx, workload.Order{
		WorkloadID: w.ID,
		Instances:  -blocked[0].Instances,
		MemoryMB:   blocked[0].MemoryMB,
		Status:     workload.OrderStatusOpen,
		CreatedAt:  s.now(),
	}, workload.OutstandingShrink(w.ID))
	if errors.Is(err, workload.ErrConflict) {
		// A concurrent inspection got there first
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to preempt workload '%s': %w", w.Name, err)
	}

	metrics.RecordPreemption()
	metrics.RecordOrderCreated(shrink.Status.String(), "preemption")
	s.log.Info("Preempted workload",
		"workload", w.Name,
		"priority", w.Priority,
		"order", shrink.ID,
		"instances", shrink.Instances,
		"blocked-order", blocked[0].ID,
	)
	return &shrink, nil
}
