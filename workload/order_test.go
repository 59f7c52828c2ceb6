package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("filled")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, status)

	_, err = ParseOrderStatus("DONE")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTerminalStatuses(t *testing.T) {
	for _, status := range OrderStatuses {
		expected := status == OrderStatusFilled || status == OrderStatusError
		assert.Equal(t, expected, status.Terminal(), status.String())
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending: {OrderStatusOpen},
		OrderStatusOpen:    {OrderStatusFilled, OrderStatusError},
		OrderStatusWorking: {OrderStatusFilled, OrderStatusError},
	}

	for _, from := range OrderStatuses {
		for _, to := range OrderStatuses {
			expected := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					expected = true
				}
			}
			assert.Equal(t, expected, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanOverride(t *testing.T) {
	// Any non-terminal status may be forced to any valid status, including skips
	assert.NoError(t, CanOverride(OrderStatusPending, OrderStatusFilled))
	assert.NoError(t, CanOverride(OrderStatusOpen, OrderStatusPending))
	assert.NoError(t, CanOverride(OrderStatusWorking, OrderStatusWorking))

	assert.ErrorIs(t, CanOverride(OrderStatusFilled, OrderStatusOpen), ErrTerminal)
	assert.ErrorIs(t, CanOverride(OrderStatusError, OrderStatusOpen), ErrTerminal)
	assert.ErrorIs(t, CanOverride(OrderStatusOpen, OrderStatus("DONE")), ErrInvalidStatus)
}

func TestEffectiveMemoryMB(t *testing.T) {
	assert.Equal(t, DefaultMemoryMB, Order{}.EffectiveMemoryMB())
	assert.Equal(t, 4096, Order{MemoryMB: 4096}.EffectiveMemoryMB())
}

func TestOrderFilterMatches(t *testing.T) {
	growth := OutstandingGrowth(1)
	assert.True(t, growth.Matches(Order{WorkloadID: 1, Instances: 2, Status: OrderStatusOpen}))
	assert.True(t, growth.Matches(Order{WorkloadID: 1, Instances: 1, Status: OrderStatusPending}))
	assert.False(t, growth.Matches(Order{WorkloadID: 1, Instances: 2, Status: OrderStatusFilled}))
	assert.False(t, growth.Matches(Order{WorkloadID: 1, Instances: -2, Status: OrderStatusOpen}))
	assert.False(t, growth.Matches(Order{WorkloadID: 2, Instances: 2, Status: OrderStatusOpen}))

	shrink := OutstandingShrink(1)
	assert.True(t, shrink.Matches(Order{WorkloadID: 1, Instances: -1, Status: OrderStatusWorking}))
	assert.False(t, shrink.Matches(Order{WorkloadID: 1, Instances: -1, Status: OrderStatusFilled}))
	assert.False(t, shrink.Matches(Order{WorkloadID: 1, Instances: 3, Status: OrderStatusOpen}))
}
