// Package api holds the JSON shapes exchanged on the os-workloads HTTP API and a client for it.
package api

import (
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
)

const (
	// WorkloadsPath is the root of every workload route
	WorkloadsPath = "/os-workloads"

	HeaderAuthToken = "X-Auth-Token"
	HeaderProjectID = "X-Project-Id"
	HeaderRequestID = "X-Request-Id"
)

type WorkloadList struct {
	Workloads []scheduler.Summary `json:"workloads"`
}

type NewWorkload struct {
	Name     string `json:"name"`
	Priority int    `json:"priority,omitempty"`
}

type RegisterRequest struct {
	Workload NewWorkload `json:"workload"`
}

type WorkloadEnvelope struct {
	Workload workload.Workload `json:"workload"`
}

// OrderView is an open order as agents see it.
type OrderView struct {
	ID        int64 `json:"id"`
	Instances int   `json:"instances"`
	MemoryMB  int   `json:"memory_mb"`
}

type OrderList struct {
	Orders []OrderView `json:"orders"`
}

func OrderViews(orders []workload.Order) []OrderView {
	return lo.Map(orders, func(o workload.Order, _ int) OrderView {
		return OrderView{ID: o.ID, Instances: o.Instances, MemoryMB: o.MemoryMB}
	})
}

// Failure is the body of every unsuccessful response.
type Failure struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const FailureStatus = "Failure"

// OutstandingGrowthMessage is returned when a growth order is refused because another one is
// still pending or open.
const OutstandingGrowthMessage = "Existing pending or open order."

func NewFailure(message string) Failure {
	return Failure{Status: FailureStatus, Message: message}
}
