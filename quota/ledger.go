package quota

import (
	"context"
	"fmt"

	"github.com/gammadia/workloads/workload"
)

// Limits caps every tenant served by a Ledger. A negative value means unlimited.
type Limits struct {
	RAM       int `json:"ram"`
	Instances int `json:"instances"`
}

// Ledger derives quota usage from the order history instead of asking a compute service.
//
// Filled orders count as in use (shrinks give capacity back), open and working growth orders
// count as reserved. It serves deployments without an OpenStack quota service.
type Ledger struct {
	store  workload.Store
	limits Limits
}

// Ledger implements Oracle
var _ Oracle = (*Ledger)(nil)

func NewLedger(store workload.Store, limits Limits) *Ledger {
	return &Ledger{store: store, limits: limits}
}

func (l *Ledger) Quota(ctx context.Context, tenant string) (Snapshot, error) {
	orders, err := l.store.ListOrders(ctx, workload.OrderFilter{
		Tenant: tenant,
		Statuses: []workload.OrderStatus{
			workload.OrderStatusFilled,
			workload.OrderStatusOpen,
			workload.OrderStatusWorking,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders of tenant '%s': %w", tenant, err)
	}

	var ram, instances Usage
	for _, order := range orders {
		memory := order.EffectiveMemoryMB() * order.Instances

		switch order.Status {
		case workload.OrderStatusFilled:
			ram.InUse += memory
			instances.InUse += order.Instances
		default:
			if order.Grows() {
				ram.Reserved += memory
				instances.Reserved += order.Instances
			}
		}
	}

	ram.InUse = max(ram.InUse, 0)
	instances.InUse = max(instances.InUse, 0)
	ram.Limit = l.limits.RAM
	instances.Limit = l.limits.Instances

	return Snapshot{RAM: ram, Instances: instances}, nil
}
