// Package storetest holds the behavior every workload.Store implementation must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Factory func(t *testing.T) workload.Store

// Run executes the whole suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("WorkloadLifecycle", func(t *testing.T) { testWorkloadLifecycle(t, factory(t)) })
	t.Run("UniqueNamePerTenant", func(t *testing.T) { testUniqueNamePerTenant(t, factory(t)) })
	t.Run("ListWorkloadsByPriority", func(t *testing.T) { testListWorkloadsByPriority(t, factory(t)) })
	t.Run("ListTenants", func(t *testing.T) { testListTenants(t, factory(t)) })
	t.Run("CreateOrderRequiresLiveWorkload", func(t *testing.T) { testCreateOrderRequiresLiveWorkload(t, factory(t)) })
	t.Run("CreateOrderUnless", func(t *testing.T) { testCreateOrderUnless(t, factory(t)) })
	t.Run("ListOrdersFilters", func(t *testing.T) { testListOrdersFilters(t, factory(t)) })
	t.Run("UpdateOrderCompareAndSet", func(t *testing.T) { testUpdateOrderCompareAndSet(t, factory(t)) })
	t.Run("UpdateOrderUnless", func(t *testing.T) { testUpdateOrderUnless(t, factory(t)) })
	t.Run("ConcurrentCompareAndSet", func(t *testing.T) { testConcurrentCompareAndSet(t, factory(t)) })
	t.Run("ConcurrentCreateOrderUnless", func(t *testing.T) { testConcurrentCreateOrderUnless(t, factory(t)) })
}

func mustWorkload(t *testing.T, store workload.Store, tenant, name string, priority int) workload.Workload {
	t.Helper()
	w, err := store.CreateWorkload(context.Background(), workload.Workload{Tenant: tenant, Name: name, Priority: priority})
	require.NoError(t, err)
	return w
}

func mustOrder(t *testing.T, store workload.Store, workloadID int64, instances int, status workload.OrderStatus) workload.Order {
	t.Helper()
	o, err := store.CreateOrder(context.Background(), workload.Order{
		WorkloadID: workloadID,
		Instances:  instances,
		MemoryMB:   2048,
		Status:     status,
	}, nil)
	require.NoError(t, err)
	return o
}

func testWorkloadLifecycle(t *testing.T, store workload.Store) {
	ctx := context.Background()

	w := mustWorkload(t, store, "tenant-a", "batch", 2)
	assert.NotZero(t, w.ID)
	assert.False(t, w.CreatedAt.IsZero())

	got, err := store.GetWorkload(ctx, "tenant-a", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch", got.Name)
	assert.Equal(t, 2, got.Priority)

	_, err = store.GetWorkload(ctx, "tenant-b", w.ID)
	assert.ErrorIs(t, err, workload.ErrNotFound)

	w.Name = "batch-renamed"
	w.Priority = 7
	updated, err := store.UpdateWorkload(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "batch-renamed", updated.Name)
	assert.Equal(t, 7, updated.Priority)

	checkin := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.TouchWorkload(ctx, w.ID, checkin))
	got, err = store.GetWorkload(ctx, "tenant-a", w.ID)
	require.NoError(t, err)
	assert.True(t, checkin.Equal(got.LastCheckin), "last checkin %s", got.LastCheckin)

	require.NoError(t, store.DeleteWorkload(ctx, "tenant-a", w.ID))
	_, err = store.GetWorkload(ctx, "tenant-a", w.ID)
	assert.ErrorIs(t, err, workload.ErrNotFound)
	assert.ErrorIs(t, store.DeleteWorkload(ctx, "tenant-a", w.ID), workload.ErrNotFound)
}

func testUniqueNamePerTenant(t *testing.T, store workload.Store) {
	ctx := context.Background()

	first := mustWorkload(t, store, "tenant-a", "web", 1)
	_, err := store.CreateWorkload(ctx, workload.Workload{Tenant: "tenant-a", Name: "web", Priority: 3})
	assert.ErrorIs(t, err, workload.ErrDuplicateName)

	// Same name in another tenant is fine
	mustWorkload(t, store, "tenant-b", "web", 1)

	// Renaming onto a taken name is refused
	other := mustWorkload(t, store, "tenant-a", "db", 1)
	other.Name = "web"
	_, err = store.UpdateWorkload(ctx, other)
	assert.ErrorIs(t, err, workload.ErrDuplicateName)

	// Soft-deleted workloads release their name
	require.NoError(t, store.DeleteWorkload(ctx, "tenant-a", first.ID))
	mustWorkload(t, store, "tenant-a", "web", 4)
}

func testListWorkloadsByPriority(t *testing.T, store workload.Store) {
	ctx := context.Background()

	low := mustWorkload(t, store, "tenant-a", "low", 9)
	high := mustWorkload(t, store, "tenant-a", "high", 1)
	mid := mustWorkload(t, store, "tenant-a", "mid", 5)
	mustWorkload(t, store, "tenant-b", "elsewhere", 0)

	all, err := store.ListWorkloads(ctx, workload.WorkloadFilter{Tenant: "tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, []int64{high.ID, mid.ID, low.ID}, lo.Map(all, func(w workload.Workload, _ int) int64 { return w.ID }))

	above, err := store.ListWorkloads(ctx, workload.WorkloadFilter{Tenant: "tenant-a", PriorityBelow: lo.ToPtr(5)})
	require.NoError(t, err)
	assert.Equal(t, []int64{high.ID}, lo.Map(above, func(w workload.Workload, _ int) int64 { return w.ID }))
}

func testListTenants(t *testing.T, store workload.Store) {
	ctx := context.Background()

	mustWorkload(t, store, "tenant-b", "x", 1)
	mustWorkload(t, store, "tenant-a", "y", 1)
	gone := mustWorkload(t, store, "tenant-c", "z", 1)
	require.NoError(t, store.DeleteWorkload(ctx, "tenant-c", gone.ID))

	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, tenants)
}

func testCreateOrderRequiresLiveWorkload(t *testing.T, store workload.Store) {
	ctx := context.Background()

	_, err := store.CreateOrder(ctx, workload.Order{WorkloadID: 4242, Instances: 1, Status: workload.OrderStatusOpen}, nil)
	assert.ErrorIs(t, err, workload.ErrNotFound)

	w := mustWorkload(t, store, "tenant-a", "batch", 1)
	require.NoError(t, store.DeleteWorkload(ctx, "tenant-a", w.ID))
	_, err = store.CreateOrder(ctx, workload.Order{WorkloadID: w.ID, Instances: 1, Status: workload.OrderStatusOpen}, nil)
	assert.ErrorIs(t, err, workload.ErrNotFound)
}

func testCreateOrderUnless(t *testing.T, store workload.Store) {
	ctx := context.Background()

	w := mustWorkload(t, store, "tenant-a", "batch", 1)
	other := mustWorkload(t, store, "tenant-a", "other", 1)

	// Another workload's growth order does not conflict
	mustOrder(t, store, other.ID, 2, workload.OrderStatusOpen)

	first, err := store.CreateOrder(ctx, workload.Order{WorkloadID: w.ID, Instances: 2, Status: workload.OrderStatusPending}, workload.OutstandingGrowth(w.ID))
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	_, err = store.CreateOrder(ctx, workload.Order{WorkloadID: w.ID, Instances: 1, Status: workload.OrderStatusOpen}, workload.OutstandingGrowth(w.ID))
	assert.ErrorIs(t, err, workload.ErrConflict)

	// Shrinks are judged by their own filter
	_, err = store.CreateOrder(ctx, workload.Order{WorkloadID: w.ID, Instances: -1, Status: workload.OrderStatusOpen}, workload.OutstandingShrink(w.ID))
	require.NoError(t, err)
	_, err = store.CreateOrder(ctx, workload.Order{WorkloadID: w.ID, Instances: -3, Status: workload.OrderStatusOpen}, workload.OutstandingShrink(w.ID))
	assert.ErrorIs(t, err, workload.ErrConflict)
}

func testListOrdersFilters(t *testing.T, store workload.Store) {
	ctx := context.Background()

	high := mustWorkload(t, store, "tenant-a", "high", 1)
	low := mustWorkload(t, store, "tenant-a", "low", 5)
	foreign := mustWorkload(t, store, "tenant-b", "foreign", 0)
	deleted := mustWorkload(t, store, "tenant-a", "deleted", 0)

	lowPending := mustOrder(t, store, low.ID, 2, workload.OrderStatusPending)
	highPending := mustOrder(t, store, high.ID, 3, workload.OrderStatusPending)
	highOpen := mustOrder(t, store, high.ID, -1, workload.OrderStatusOpen)
	mustOrder(t, store, foreign.ID, 1, workload.OrderStatusPending)
	mustOrder(t, store, deleted.ID, 1, workload.OrderStatusPending)
	require.NoError(t, store.DeleteWorkload(ctx, "tenant-a", deleted.ID))

	ids := func(orders []workload.Order) []int64 {
		return lo.Map(orders, func(o workload.Order, _ int) int64 { return o.ID })
	}

	pending, err := store.ListOrders(ctx, workload.OrderFilter{Tenant: "tenant-a", Statuses: []workload.OrderStatus{workload.OrderStatusPending}})
	require.NoError(t, err)
	assert.Equal(t, []int64{highPending.ID, lowPending.ID}, ids(pending), "ordered by ascending workload priority")

	above, err := store.ListOrders(ctx, workload.OrderFilter{
		Tenant:        "tenant-a",
		Statuses:      []workload.OrderStatus{workload.OrderStatusPending},
		PriorityBelow: lo.ToPtr(low.Priority),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{highPending.ID}, ids(above))

	shrinks, err := store.ListOrders(ctx, workload.OrderFilter{WorkloadID: high.ID, MaxInstances: lo.ToPtr(-1)})
	require.NoError(t, err)
	assert.Equal(t, []int64{highOpen.ID}, ids(shrinks))

	limited, err := store.ListOrders(ctx, workload.OrderFilter{Tenant: "tenant-a", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := store.GetOrder(ctx, high.ID, highPending.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Instances)
	assert.Equal(t, 2048, got.MemoryMB)
	assert.Equal(t, workload.OrderStatusPending, got.Status)

	_, err = store.GetOrder(ctx, low.ID, highPending.ID)
	assert.ErrorIs(t, err, workload.ErrNotFound)
}

func testUpdateOrderCompareAndSet(t *testing.T, store workload.Store) {
	ctx := context.Background()

	w := mustWorkload(t, store, "tenant-a", "batch", 1)
	o := mustOrder(t, store, w.ID, 2, workload.OrderStatusPending)

	o.Status = workload.OrderStatusOpen
	o.Instances = 4
	updated, err := store.UpdateOrder(ctx, o, workload.OrderStatusPending, nil)
	require.NoError(t, err)
	assert.Equal(t, workload.OrderStatusOpen, updated.Status)
	assert.Equal(t, 4, updated.Instances)

	o.Status = workload.OrderStatusFilled
	_, err = store.UpdateOrder(ctx, o, workload.OrderStatusPending, nil)
	assert.ErrorIs(t, err, workload.ErrConflict)

	o.ID = 9999
	_, err = store.UpdateOrder(ctx, o, workload.OrderStatusOpen, nil)
	assert.ErrorIs(t, err, workload.ErrNotFound)
}

func testUpdateOrderUnless(t *testing.T, store workload.Store) {
	ctx := context.Background()

	w := mustWorkload(t, store, "tenant-a", "batch", 1)
	other := mustWorkload(t, store, "tenant-a", "etl", 1)
	shrink := mustOrder(t, store, w.ID, -1, workload.OrderStatusOpen)
	growth := mustOrder(t, store, w.ID, 2, workload.OrderStatusOpen)
	mustOrder(t, store, other.ID, -1, workload.OrderStatusOpen)

	// Turning the growth order into a second shrink order is refused
	amended := growth
	amended.Instances = -3
	_, err := store.UpdateOrder(ctx, amended, workload.OrderStatusOpen, workload.OutstandingShrink(w.ID))
	assert.ErrorIs(t, err, workload.ErrConflict)

	got, err := store.GetOrder(ctx, w.ID, growth.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Instances)

	// The order itself never conflicts
	amended = shrink
	amended.Instances = -2
	updated, err := store.UpdateOrder(ctx, amended, workload.OrderStatusOpen, workload.OutstandingShrink(w.ID))
	require.NoError(t, err)
	assert.Equal(t, -2, updated.Instances)

	// Only orders of the same workload conflict
	w2 := mustWorkload(t, store, "tenant-a", "stream", 1)
	lone := mustOrder(t, store, w2.ID, 2, workload.OrderStatusOpen)
	lone.Instances = -1
	updated, err = store.UpdateOrder(ctx, lone, workload.OrderStatusOpen, workload.OutstandingShrink(w2.ID))
	require.NoError(t, err)
	assert.Equal(t, -1, updated.Instances)
}

func testConcurrentCompareAndSet(t *testing.T, store workload.Store) {
	ctx := context.Background()

	w := mustWorkload(t, store, "tenant-a", "batch", 1)
	o := mustOrder(t, store, w.ID, 1, workload.OrderStatusOpen)

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := o
			next.Status = workload.OrderStatusFilled
			if _, err := store.UpdateOrder(ctx, next, workload.OrderStatusOpen, nil); err == nil {
				mu.Lock()
				successes += 1
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one writer wins the compare-and-set")
}

func testConcurrentCreateOrderUnless(t *testing.T, store workload.Store) {
	ctx := context.Background()

	w := mustWorkload(t, store, "tenant-a", "batch", 5)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.CreateOrder(ctx, workload.Order{WorkloadID: w.ID, Instances: -2, Status: workload.OrderStatusOpen}, workload.OutstandingShrink(w.ID))
		}()
	}
	wg.Wait()

	shrinks, err := store.ListOrders(ctx, *workload.OutstandingShrink(w.ID))
	require.NoError(t, err)
	assert.Len(t, shrinks, 1)
}
