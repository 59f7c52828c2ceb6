package reconciler

import "context"

// Workload identifies the workload a loop reconciles. Backends name and find its instances
// from Name.
type Workload struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Provisioner creates and deletes the instances of a workload.
//
// Both methods carry on after a single instance fails and report the shortfall once the whole
// batch has been attempted.
type Provisioner interface {
	CreateInstances(ctx context.Context, count int, w Workload) error
	DeleteInstances(ctx context.Context, count int, w Workload) error
}
