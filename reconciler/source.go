package reconciler

import (
	"context"

	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
)

// OrderSource is where a loop reads the open orders of its workload and acknowledges them.
type OrderSource interface {
	OpenOrders(ctx context.Context, workloadID int64) ([]workload.Order, error)
	Acknowledge(ctx context.Context, workloadID, orderID int64, status workload.OrderStatus) error
}

// SchedulerSource reads orders straight from an in-process scheduler, for agents sharing the
// scheduler's store instead of talking to an API server.
type SchedulerSource struct {
	Scheduler  *scheduler.Scheduler
	Tenant     string
	Checkpoint *scheduler.Checkpoint
}

// SchedulerSource implements OrderSource
var _ OrderSource = (*SchedulerSource)(nil)

func (s *SchedulerSource) OpenOrders(ctx context.Context, workloadID int64) ([]workload.Order, error) {
	return s.Scheduler.Inspect(ctx, s.Tenant, workloadID, scheduler.InspectOptions{
		Checkpoint: s.Checkpoint,
		Checkin:    true,
	})
}

func (s *SchedulerSource) Acknowledge(ctx context.Context, workloadID, orderID int64, status workload.OrderStatus) error {
	_, err := s.Scheduler.Update(ctx, s.Tenant, workloadID, scheduler.UpdateRequest{
		Orders: []scheduler.OrderChange{{ID: lo.ToPtr(orderID), Status: lo.ToPtr(status.String())}},
	})
	return err
}
