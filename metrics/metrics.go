// Package metrics exposes Prometheus counters for admission, preemption and reconciliation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "workloads"

var (
	ordersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "orders_created_total",
			Help:      "Count of orders created, by initial status and origin (client, preemption).",
		},
		[]string{"status", "origin"},
	)
	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "orders_rejected_total",
			Help:      "Count of order requests rejected without creating an order, by reason.",
		},
		[]string{"reason"},
	)
	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "admissions_total",
			Help:      "Count of pending orders opened by an admission sweep.",
		},
		[]string{},
	)
	preemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "preemptions_total",
			Help:      "Count of shrink orders injected against lower-priority workloads.",
		},
		[]string{},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "dispatches_total",
			Help:      "Count of orders dispatched to the provisioning backend, by direction and result.",
		},
		[]string{"direction", "result"},
	)
	pollFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "poll_failures_total",
			Help:      "Count of failed polls for open orders.",
		},
		[]string{},
	)
	acknowledgements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "acknowledgements_total",
			Help:      "Count of order acknowledgements, by acknowledged status and result.",
		},
		[]string{"status", "result"},
	)
)

var registerMetrics sync.Once

// Register all metrics with the given registerer, once per process.
func Register(registerer prometheus.Registerer) {
	registerMetrics.Do(func() {
		registerer.MustRegister(ordersCreated)
		registerer.MustRegister(ordersRejected)
		registerer.MustRegister(admissions)
		registerer.MustRegister(preemptions)
		registerer.MustRegister(dispatches)
		registerer.MustRegister(pollFailures)
		registerer.MustRegister(acknowledgements)
	})
}

func RecordOrderCreated(status, origin string) {
	ordersCreated.WithLabelValues(status, origin).Inc()
}

func RecordOrderRejected(reason string) {
	ordersRejected.WithLabelValues(reason).Inc()
}

func RecordAdmission() {
	admissions.WithLabelValues().Inc()
}

func RecordPreemption() {
	preemptions.WithLabelValues().Inc()
}

func RecordDispatch(direction string, success bool) {
	dispatches.WithLabelValues(direction, result(success)).Inc()
}

func RecordPollFailure() {
	pollFailures.WithLabelValues().Inc()
}

func RecordAcknowledgement(status string, success bool) {
	acknowledgements.WithLabelValues(status, result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
