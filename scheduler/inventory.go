package scheduler

import "context"

// Resident is what currently runs for a workload.
type Resident struct {
	Instances int `json:"instances"`
	MemoryMB  int `json:"memory_mb"`
}

// Inventory counts the instances running for workloads, matched by name prefix.
type Inventory interface {
	Resident(ctx context.Context, tenant string, names []string) (map[string]Resident, error)
}
