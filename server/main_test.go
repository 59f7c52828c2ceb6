package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gammadia/workloads/api"
	"github.com/gammadia/workloads/quota"
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/server/flags"
	"github.com/gammadia/workloads/workload"
	"github.com/gammadia/workloads/workload/sqlite"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func withSettings(t *testing.T, settings map[string]any) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for key, value := range settings {
		viper.Set(key, value)
	}
}

func TestOpenStore(t *testing.T) {
	withSettings(t, map[string]any{flags.Store: "memory"})
	store, err := openStore()
	require.NoError(t, err)
	assert.IsType(t, &workload.MemoryStore{}, store)

	withSettings(t, map[string]any{flags.Store: "sqlite", flags.StorePath: filepath.Join(t.TempDir(), "workloads.db")})
	store, err = openStore()
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, store)
	require.NoError(t, store.Close())

	withSettings(t, map[string]any{flags.Store: "postgres"})
	_, err = openStore()
	assert.EqualError(t, err, "unknown store 'postgres'")
}

func TestCreateOracle(t *testing.T) {
	store := workload.NewMemoryStore()

	withSettings(t, map[string]any{flags.Quota: "ledger", flags.QuotaRAM: 4096, flags.QuotaInstances: 4})
	oracle, err := createOracle(store)
	require.NoError(t, err)
	assert.IsType(t, &quota.Ledger{}, oracle)

	withSettings(t, map[string]any{flags.Quota: "static", flags.QuotaRAM: 4096, flags.QuotaInstances: -1})
	oracle, err = createOracle(store)
	require.NoError(t, err)
	assert.Equal(t, quota.Static{quota.RAM: {Limit: 4096}, quota.Instances: {Limit: -1}}, oracle)

	withSettings(t, map[string]any{flags.Quota: "cinder"})
	_, err = createOracle(store)
	assert.EqualError(t, err, "unknown quota oracle")
}

func TestCreateScheduler(t *testing.T) {
	withSettings(t, map[string]any{flags.Quota: "static", flags.SweepConcurrency: 2})
	s, err := createScheduler(workload.NewMemoryStore())
	require.NoError(t, err)
	assert.NotNil(t, s)

	withSettings(t, map[string]any{flags.Quota: "static", flags.SweepConcurrency: 0})
	_, err = createScheduler(workload.NewMemoryStore())
	assert.EqualError(t, err, "invalid scheduler config: sweep-concurrency must be greater than 0")

	withSettings(t, map[string]any{flags.Quota: "static", flags.SweepConcurrency: 1, flags.Inventory: "ironic"})
	_, err = createScheduler(workload.NewMemoryStore())
	assert.EqualError(t, err, "unable to create inventory 'ironic': unknown inventory")
}

func TestRouter(t *testing.T) {
	s := scheduler.New(workload.NewMemoryStore(), quota.Static{}, scheduler.Config{Logger: testLogger})
	router := newRouter(api.NewHandler(s, nil, api.HandlerConfig{Logger: testLogger, DefaultTenant: "tenant-a"}))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + api.WorkloadsPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + api.WorkloadsPath + "/42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
