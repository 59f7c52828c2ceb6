package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gammadia/workloads/namegen"
	"github.com/gammadia/workloads/quota"
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

// --- Mock provisioner ---

type mockProvisioner struct {
	mu        sync.Mutex
	instances []string
	creates   int
	deletes   int
	err       error
	block     bool
}

func (p *mockProvisioner) CreateInstances(ctx context.Context, count int, w Workload) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates += 1
	if p.err != nil {
		return p.err
	}
	for range count {
		p.instances = append(p.instances, namegen.Instance(w.Name))
	}
	return nil
}

func (p *mockProvisioner) DeleteInstances(_ context.Context, count int, w Workload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes += 1
	if p.err != nil {
		return p.err
	}
	for range count {
		index := lo.IndexOf(lo.Map(p.instances, func(name string, _ int) bool {
			return strings.HasPrefix(name, w.Name)
		}), true)
		if index < 0 {
			break
		}
		p.instances = append(p.instances[:index], p.instances[index+1:]...)
	}
	return nil
}

func (p *mockProvisioner) resident() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.instances...)
}

// --- Mock order source ---

type ack struct {
	order  int64
	status workload.OrderStatus
}

type mockSource struct {
	mu      sync.Mutex
	orders  []workload.Order
	polls   int
	acks    []ack
	pollErr error
	ackErrs []error
}

func (s *mockSource) OpenOrders(context.Context, int64) ([]workload.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls += 1
	if s.pollErr != nil {
		return nil, s.pollErr
	}
	return append([]workload.Order{}, s.orders...), nil
}

func (s *mockSource) Acknowledge(_ context.Context, _, orderID int64, status workload.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ackErrs) > 0 {
		err := s.ackErrs[0]
		s.ackErrs = s.ackErrs[1:]
		if err != nil {
			return err
		}
	}
	s.acks = append(s.acks, ack{orderID, status})
	return nil
}

func (s *mockSource) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// --- Helpers ---

var batch = Workload{ID: 1, Name: "batch"}

func newTestConfig() Config {
	return Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:           testclock.NewFakeClock(time.Now()),
		PollInterval:    2 * time.Second,
		DispatchTimeout: 0,
	}
}

// --- Tests ---

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := workload.NewMemoryStore()
	s := scheduler.New(store, quota.Static{
		quota.RAM:       {Limit: 65536},
		quota.Instances: {Limit: 20},
	}, scheduler.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	w, err := s.RegisterWorkload(ctx, "tenant-a", "batch", 2)
	require.NoError(t, err)

	result, err := s.Update(ctx, "tenant-a", w.ID, scheduler.UpdateRequest{Orders: []scheduler.OrderChange{{
		Instances: lo.ToPtr(4),
		MemoryMB:  lo.ToPtr(2048),
	}}})
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	require.Equal(t, workload.OrderStatusOpen, result.Orders[0].Status)

	provisioner := &mockProvisioner{}
	source := &SchedulerSource{Scheduler: s, Tenant: "tenant-a"}
	loop := New(Workload{ID: w.ID, Name: w.Name}, source, provisioner, newTestConfig())

	require.NoError(t, loop.Tick(ctx))

	resident := provisioner.resident()
	assert.Len(t, resident, 4)
	for _, name := range resident {
		assert.True(t, strings.HasPrefix(name, "batch-"), name)
	}

	o, err := store.GetOrder(ctx, w.ID, result.Orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, workload.OrderStatusFilled, o.Status)

	// Nothing left to do
	require.NoError(t, loop.Tick(ctx))
	assert.Equal(t, 1, provisioner.creates)

	w, err = store.GetWorkload(ctx, "tenant-a", w.ID)
	require.NoError(t, err)
	assert.False(t, w.LastCheckin.IsZero())
}

func TestAcknowledgedOrdersAreNotDispatchedAgain(t *testing.T) {
	source := &mockSource{orders: []workload.Order{{ID: 7, WorkloadID: 1, Instances: 2, Status: workload.OrderStatusOpen}}}
	provisioner := &mockProvisioner{}
	loop := New(batch, source, provisioner, newTestConfig())

	for range 3 {
		require.NoError(t, loop.Tick(context.Background()))
	}

	assert.Equal(t, 1, provisioner.creates)
	assert.Len(t, provisioner.resident(), 2)
	assert.Equal(t, []ack{
		{7, workload.OrderStatusFilled},
		{7, workload.OrderStatusFilled},
		{7, workload.OrderStatusFilled},
	}, source.acks)
}

func TestFailedAcknowledgementIsRetried(t *testing.T) {
	source := &mockSource{
		orders:  []workload.Order{{ID: 7, WorkloadID: 1, Instances: 1, Status: workload.OrderStatusOpen}},
		ackErrs: []error{errors.New("connection reset")},
	}
	provisioner := &mockProvisioner{}
	loop := New(batch, source, provisioner, newTestConfig())

	require.NoError(t, loop.Tick(context.Background()))
	assert.Empty(t, source.acks)

	require.NoError(t, loop.Tick(context.Background()))
	assert.Equal(t, []ack{{7, workload.OrderStatusFilled}}, source.acks)
	assert.Equal(t, 1, provisioner.creates)
}

func TestForgetsOrdersNoLongerOpen(t *testing.T) {
	source := &mockSource{orders: []workload.Order{{ID: 7, WorkloadID: 1, Instances: 1, Status: workload.OrderStatusOpen}}}
	loop := New(batch, source, &mockProvisioner{}, newTestConfig())

	require.NoError(t, loop.Tick(context.Background()))
	_, seen := loop.owed(7)
	assert.True(t, seen)

	source.orders = nil
	require.NoError(t, loop.Tick(context.Background()))
	_, seen = loop.owed(7)
	assert.False(t, seen)
}

func TestShrinkOrderDeletesInstances(t *testing.T) {
	provisioner := &mockProvisioner{instances: []string{"batch-AAAAA", "other-BBBBB", "batch-CCCCC", "batch-DDDDD"}}
	source := &mockSource{orders: []workload.Order{{ID: 3, WorkloadID: 1, Instances: -2, Status: workload.OrderStatusOpen}}}
	loop := New(batch, source, provisioner, newTestConfig())

	require.NoError(t, loop.Tick(context.Background()))

	assert.Equal(t, 1, provisioner.deletes)
	assert.Equal(t, []string{"other-BBBBB", "batch-DDDDD"}, provisioner.resident())
	assert.Equal(t, []ack{{3, workload.OrderStatusFilled}}, source.acks)
}

func TestFailedDispatchIsAcknowledgedAsFilled(t *testing.T) {
	source := &mockSource{orders: []workload.Order{{ID: 7, WorkloadID: 1, Instances: 2, Status: workload.OrderStatusOpen}}}
	provisioner := &mockProvisioner{err: errors.New("no valid host was found")}
	loop := New(batch, source, provisioner, newTestConfig())

	require.NoError(t, loop.Tick(context.Background()))
	assert.Equal(t, []ack{{7, workload.OrderStatusFilled}}, source.acks)
}

func TestStrictAckMarksFailedDispatchAsError(t *testing.T) {
	source := &mockSource{orders: []workload.Order{{ID: 7, WorkloadID: 1, Instances: 2, Status: workload.OrderStatusOpen}}}
	provisioner := &mockProvisioner{err: errors.New("no valid host was found")}
	config := newTestConfig()
	config.StrictAck = true
	loop := New(batch, source, provisioner, config)

	require.NoError(t, loop.Tick(context.Background()))
	assert.Equal(t, []ack{{7, workload.OrderStatusError}}, source.acks)
}

func TestDispatchTimeout(t *testing.T) {
	source := &mockSource{orders: []workload.Order{{ID: 7, WorkloadID: 1, Instances: 1, Status: workload.OrderStatusOpen}}}
	config := newTestConfig()
	config.StrictAck = true
	config.DispatchTimeout = 10 * time.Millisecond
	loop := New(batch, source, &mockProvisioner{block: true}, config)

	require.NoError(t, loop.Tick(context.Background()))
	assert.Equal(t, []ack{{7, workload.OrderStatusError}}, source.acks)
}

func TestCancelledDispatchIsNotAcknowledged(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	source := &mockSource{orders: []workload.Order{{ID: 7, WorkloadID: 1, Instances: 1, Status: workload.OrderStatusOpen}}}
	loop := New(batch, source, &mockProvisioner{block: true}, newTestConfig())

	assert.ErrorIs(t, loop.Tick(ctx), context.DeadlineExceeded)
	assert.Empty(t, source.acks)
	_, seen := loop.owed(7)
	assert.False(t, seen)
}

func TestPollFailure(t *testing.T) {
	source := &mockSource{pollErr: errors.New("503 Service Unavailable")}
	provisioner := &mockProvisioner{}
	loop := New(batch, source, provisioner, newTestConfig())

	err := loop.Tick(context.Background())
	assert.ErrorContains(t, err, "503 Service Unavailable")
	assert.Equal(t, 0, provisioner.creates)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	clock := testclock.NewFakeClock(time.Now())
	config := newTestConfig()
	config.Clock = clock

	// Poll failures must not stop the loop
	source := &mockSource{pollErr: errors.New("connection refused")}
	loop := New(batch, source, &mockProvisioner{}, config)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- loop.Run(ctx)
	}()

	require.Eventually(t, func() bool { return source.pollCount() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, clock.HasWaiters, time.Second, time.Millisecond)

	clock.Step(config.PollInterval)
	require.Eventually(t, func() bool { return source.pollCount() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	assert.Equal(t, 2, source.pollCount())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))

	config := DefaultConfig()
	config.PollInterval = 0
	assert.EqualError(t, Validate(config), "poll-interval must be greater than 0")

	config = DefaultConfig()
	config.DispatchTimeout = -time.Second
	assert.EqualError(t, Validate(config), "dispatch-timeout must not be negative")
}
