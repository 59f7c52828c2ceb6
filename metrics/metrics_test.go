package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(dispatches.WithLabelValues("grow", "failure"))

	RecordDispatch("grow", false)
	RecordDispatch("grow", false)

	assert.Equal(t, before+2, testutil.ToFloat64(dispatches.WithLabelValues("grow", "failure")))
}

func TestRecordAcknowledgement(t *testing.T) {
	before := testutil.ToFloat64(acknowledgements.WithLabelValues("FILLED", "success"))

	RecordAcknowledgement("FILLED", true)

	assert.Equal(t, before+1, testutil.ToFloat64(acknowledgements.WithLabelValues("FILLED", "success")))
}

func TestRegisterIsIdempotent(t *testing.T) {
	registry := prometheus.NewRegistry()

	assert.NotPanics(t, func() {
		Register(registry)
		Register(registry)
	})

	RecordPreemption()

	count, err := testutil.GatherAndCount(registry, "workloads_scheduler_preemptions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
