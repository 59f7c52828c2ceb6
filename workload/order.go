package workload

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusOpen    OrderStatus = "OPEN"
	OrderStatusWorking OrderStatus = "WORKING"
	OrderStatusFilled  OrderStatus = "FILLED"
	OrderStatusError   OrderStatus = "ERROR"
)

// OrderStatuses lists every valid status, in the order the API documents them.
var OrderStatuses = []OrderStatus{
	OrderStatusOpen,
	OrderStatusFilled,
	OrderStatusPending,
	OrderStatusError,
	OrderStatusWorking,
}

// DefaultMemoryMB is the per-instance memory assumed when an order leaves it unspecified.
const DefaultMemoryMB = 1024

func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidStatus, s)
	}
	return status, nil
}

func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may be applied to an order in this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusError
}

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransition reports whether the system itself may move an order from one status to another.
// Manual corrections go through CanOverride instead.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderStatusPending:
		return to == OrderStatusOpen
	case OrderStatusOpen:
		return to == OrderStatusFilled || to == OrderStatusError
	case OrderStatusWorking:
		return to == OrderStatusFilled || to == OrderStatusError
	default:
		return false
	}
}

// CanOverride validates an explicit client-issued status change.
// Any valid status may be set as long as the order is not terminal yet.
func CanOverride(from, to OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: '%s'", ErrInvalidStatus, to)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: order is already %s", ErrTerminal, from)
	}
	return nil
}

type Order struct {
	ID         int64       `json:"id"`
	WorkloadID int64       `json:"workload_id"`
	Instances  int         `json:"instances"`
	MemoryMB   int         `json:"memory_mb"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (o Order) Grows() bool {
	return o.Instances > 0
}

func (o Order) Shrinks() bool {
	return o.Instances < 0
}

// EffectiveMemoryMB is the per-instance memory used for quota projections.
func (o Order) EffectiveMemoryMB() int {
	if o.MemoryMB <= 0 {
		return DefaultMemoryMB
	}
	return o.MemoryMB
}
