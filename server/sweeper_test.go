package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gammadia/workloads/quota"
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

type mutableOracle struct {
	mu        sync.Mutex
	instances int
}

func (o *mutableOracle) Quota(context.Context, string) (quota.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return quota.Snapshot{
		quota.RAM:       {Limit: -1},
		quota.Instances: {Limit: o.instances},
	}, nil
}

func (o *mutableOracle) setInstances(limit int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.instances = limit
}

func TestSweeperOpensPendingOrders(t *testing.T) {
	ctx := context.Background()
	store := workload.NewMemoryStore()
	oracle := &mutableOracle{instances: 1}

	config := scheduler.DefaultConfig()
	config.Logger = testLogger
	s := scheduler.New(store, oracle, config)

	w, err := s.RegisterWorkload(ctx, "tenant-a", "batch", 1)
	require.NoError(t, err)
	result, err := s.Update(ctx, "tenant-a", w.ID, scheduler.UpdateRequest{
		Orders: []scheduler.OrderChange{{Instances: lo.ToPtr(1)}},
	})
	require.NoError(t, err)
	require.Equal(t, workload.OrderStatusPending, result.Orders[0].Status)

	oracle.setInstances(10)

	clk := testclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- runSweeper(sweepCtx, s, clk, time.Minute) }()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(time.Minute)

	require.Eventually(t, func() bool {
		o, err := store.GetOrder(ctx, w.ID, result.Orders[0].ID)
		return err == nil && o.Status == workload.OrderStatusOpen
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeperDisabled(t *testing.T) {
	s := scheduler.New(workload.NewMemoryStore(), quota.Static{}, scheduler.Config{Logger: testLogger})
	clk := testclock.NewFakeClock(time.Now())

	assert.NoError(t, runSweeper(context.Background(), s, clk, 0))
	assert.False(t, clk.HasWaiters())
}
