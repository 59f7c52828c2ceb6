// Package quota answers how much of a tenant's ram and instance quota is still available.
package quota

import (
	"context"
	"fmt"
)

type Resource string

const (
	RAM       Resource = "ram"
	Instances Resource = "instances"
)

// Usage is the state of one tracked resource. A negative Limit means unlimited.
type Usage struct {
	Reserved int `json:"reserved"`
	InUse    int `json:"in_use"`
	Limit    int `json:"limit"`
}

func (u Usage) Unlimited() bool {
	return u.Limit < 0
}

// Snapshot is the quota of a tenant at a given time, keyed by resource.
type Snapshot map[Resource]Usage

// Request is the capacity an order would consume once executed.
type Request struct {
	Instances int
	MemoryMB  int
}

// Projection is the usage a resource would reach if a request were admitted.
type Projection struct {
	Resource  Resource
	Projected int
	Limit     int
}

func (p Projection) Fits() bool {
	return p.Limit < 0 || p.Projected < p.Limit
}

func (p Projection) String() string {
	if p.Limit < 0 {
		return fmt.Sprintf("%s %d/unlimited", p.Resource, p.Projected)
	}
	return fmt.Sprintf("%s %d/%d", p.Resource, p.Projected, p.Limit)
}

// Project computes the projected ram and instance usage for the request.
// A resource absent from the snapshot is treated as unlimited.
func (s Snapshot) Project(req Request) []Projection {
	ram := s.usage(RAM)
	instances := s.usage(Instances)

	return []Projection{
		{Resource: RAM, Projected: ram.Reserved + ram.InUse + req.MemoryMB*req.Instances, Limit: ram.Limit},
		{Resource: Instances, Projected: instances.Reserved + instances.InUse + req.Instances, Limit: instances.Limit},
	}
}

// Admits reports whether every projection stays strictly below its limit.
// Reaching a limit exactly does not leave headroom and is refused.
func (s Snapshot) Admits(req Request) bool {
	for _, projection := range s.Project(req) {
		if !projection.Fits() {
			return false
		}
	}
	return true
}

func (s Snapshot) usage(r Resource) Usage {
	if usage, ok := s[r]; ok {
		return usage
	}
	return Usage{Limit: -1}
}

// Oracle reports the current quota of a tenant. It is only ever read.
type Oracle interface {
	Quota(ctx context.Context, tenant string) (Snapshot, error)
}

// Static returns the same snapshot for every tenant.
type Static Snapshot

// Static implements Oracle
var _ Oracle = Static{}

func (s Static) Quota(context.Context, string) (Snapshot, error) {
	snapshot := make(Snapshot, len(s))
	for resource, usage := range s {
		snapshot[resource] = usage
	}
	return snapshot, nil
}
