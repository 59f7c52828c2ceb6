package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gammadia/workloads/quota"
	"github.com/gammadia/workloads/reconciler"
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var silent = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockAuthenticator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *mockAuthenticator) Authenticate(context.Context) (Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls += 1
	if a.err != nil {
		return Credential{}, a.err
	}
	return Credential{Token: "token", ProjectID: "tenant-a"}, nil
}

func (a *mockAuthenticator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type mockProvisioner struct {
	mu      sync.Mutex
	created int
	deleted int
}

func (p *mockProvisioner) CreateInstances(_ context.Context, count int, _ reconciler.Workload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created += count
	return nil
}

func (p *mockProvisioner) DeleteInstances(_ context.Context, count int, _ reconciler.Workload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted += count
	return nil
}

type testEnv struct {
	store  *workload.MemoryStore
	server *httptest.Server
	client *Client
	auth   *mockAuthenticator
}

func newTestEnv(t *testing.T, snapshot quota.Static) *testEnv {
	t.Helper()

	store := workload.NewMemoryStore()
	s := scheduler.New(store, snapshot, scheduler.Config{Logger: silent, SweepConcurrency: 1})
	server := httptest.NewServer(NewHandler(s, scheduler.NewCheckpoint(), HandlerConfig{Logger: silent}))
	t.Cleanup(server.Close)

	auth := &mockAuthenticator{}
	config := DefaultClientConfig()
	config.Logger = silent
	config.Endpoint = server.URL
	client, err := NewClient(NewCredentialCache(auth, CredentialTTL), config)
	require.NoError(t, err)

	return &testEnv{store: store, server: server, client: client, auth: auth}
}

func unlimited() quota.Static {
	return quota.Static{quota.RAM: {Limit: -1}, quota.Instances: {Limit: -1}}
}

func TestRegisterListAndDelete(t *testing.T) {
	env := newTestEnv(t, unlimited())
	ctx := context.Background()

	w, err := env.client.RegisterWorkload(ctx, "batch", 0)
	require.NoError(t, err)
	assert.Equal(t, "batch", w.Name)
	assert.Equal(t, "tenant-a", w.Tenant)
	assert.Equal(t, workload.DefaultPriority, w.Priority)

	_, err = env.client.RegisterWorkload(ctx, "batch", 2)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	workloads, err := env.client.ListWorkloads(ctx)
	require.NoError(t, err)
	require.Len(t, workloads, 1)
	assert.Equal(t, w.ID, workloads[0].ID)

	require.NoError(t, env.client.DeleteWorkload(ctx, w.ID))
	_, err = env.client.Inspect(ctx, w.ID, false)
	assert.ErrorIs(t, err, workload.ErrNotFound)

	workloads, err = env.client.ListWorkloads(ctx)
	require.NoError(t, err)
	assert.Empty(t, workloads)
}

func TestOrderAndInspect(t *testing.T) {
	env := newTestEnv(t, unlimited())
	ctx := context.Background()

	w, err := env.client.RegisterWorkload(ctx, "batch", 1)
	require.NoError(t, err)

	order, err := env.client.Order(ctx, w.ID, 3, 2048)
	require.NoError(t, err)
	assert.Equal(t, workload.OrderStatusOpen, order.Status)

	orders, err := env.client.Inspect(ctx, w.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []OrderView{{ID: order.ID, Instances: 3, MemoryMB: 2048}}, orders)

	stored, err := env.store.GetWorkload(ctx, "tenant-a", w.ID)
	require.NoError(t, err)
	assert.False(t, stored.LastCheckin.IsZero())
}

func TestOutstandingGrowthFailurePayload(t *testing.T) {
	env := newTestEnv(t, unlimited())
	ctx := context.Background()

	w, err := env.client.RegisterWorkload(ctx, "batch", 1)
	require.NoError(t, err)
	_, err = env.client.Order(ctx, w.ID, 1, 0)
	require.NoError(t, err)

	_, err = env.client.Order(ctx, w.ID, 1, 0)
	assert.ErrorIs(t, err, scheduler.ErrOutstandingGrowth)

	// The raw payload
	req, err := http.NewRequest(http.MethodPut, env.server.URL+workloadPath(w.ID), strings.NewReader(`{"order":[{"instances":2}]}`))
	require.NoError(t, err)
	req.Header.Set(HeaderProjectID, "tenant-a")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var failure Failure
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failure))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, Failure{Status: "Failure", Message: "Existing pending or open order."}, failure)
}

func TestUpdateWorkloadAndOrderStatus(t *testing.T) {
	env := newTestEnv(t, unlimited())
	ctx := context.Background()

	w, err := env.client.RegisterWorkload(ctx, "batch", 1)
	require.NoError(t, err)
	order, err := env.client.Order(ctx, w.ID, 2, 0)
	require.NoError(t, err)

	result, err := env.client.Update(ctx, w.ID, scheduler.UpdateRequest{
		Workload: &scheduler.WorkloadChange{Priority: lo.ToPtr(7)},
		Orders:   []scheduler.OrderChange{{ID: lo.ToPtr(order.ID), Status: lo.ToPtr("filled")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result.Workload.Priority)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, workload.OrderStatusFilled, result.Orders[0].Status)

	err = env.client.Acknowledge(ctx, w.ID, order.ID, workload.OrderStatusOpen)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	err = env.client.Acknowledge(ctx, w.ID, order.ID+100, workload.OrderStatusFilled)
	assert.ErrorIs(t, err, workload.ErrNotFound)
}

func TestRequestsWithoutProject(t *testing.T) {
	env := newTestEnv(t, unlimited())

	resp, err := http.Get(env.server.URL + WorkloadsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
}

func TestInvalidWorkloadID(t *testing.T) {
	env := newTestEnv(t, unlimited())

	req, err := http.NewRequest(http.MethodGet, env.server.URL+WorkloadsPath+"/abc", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderProjectID, "tenant-a")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterInvalidName(t *testing.T) {
	env := newTestEnv(t, unlimited())

	_, err := env.client.RegisterWorkload(context.Background(), "", 0)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid workload name")
}

func TestClientReusesCredentials(t *testing.T) {
	env := newTestEnv(t, unlimited())
	ctx := context.Background()

	for range 3 {
		_, err := env.client.ListWorkloads(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, env.auth.count())
}

func TestLoopOverClient(t *testing.T) {
	env := newTestEnv(t, quota.Static{quota.RAM: {Limit: 65536}, quota.Instances: {Limit: 20}})
	ctx := context.Background()

	w, err := env.client.RegisterWorkload(ctx, "batch", 2)
	require.NoError(t, err)
	order, err := env.client.Order(ctx, w.ID, 4, 2048)
	require.NoError(t, err)
	require.Equal(t, workload.OrderStatusOpen, order.Status)

	config := reconciler.DefaultConfig()
	config.Logger = silent
	provisioner := &mockProvisioner{}
	loop := reconciler.New(reconciler.Workload{ID: w.ID, Name: w.Name}, env.client, provisioner, config)

	require.NoError(t, loop.Tick(ctx))
	assert.Equal(t, 4, provisioner.created)

	stored, err := env.store.GetOrder(ctx, w.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, workload.OrderStatusFilled, stored.Status)

	orders, err := env.client.Inspect(ctx, w.ID, false)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
