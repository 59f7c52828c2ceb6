package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	testclock "k8s.io/utils/clock/testing"
)

func TestPauseReturnsImmediatelyWithoutDuration(t *testing.T) {
	assert.NoError(t, Pause(context.Background(), testclock.NewFakeClock(time.Now()), 0))
}

func TestPauseFollowsClock(t *testing.T) {
	fake := testclock.NewFakeClock(time.Now())
	done := make(chan error)
	go func() {
		done <- Pause(context.Background(), fake, 10*time.Second)
	}()

	require.Eventually(t, fake.HasWaiters, time.Second, time.Millisecond)
	fake.Step(10 * time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pause did not end")
	}
}

func TestPauseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Pause(ctx, testclock.NewFakeClock(time.Now()), time.Hour), context.Canceled)
}

func TestWaitForSucceeds(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), clock.RealClock{}, time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitForTimesOut(t *testing.T) {
	err := WaitFor(context.Background(), clock.RealClock{}, 5*time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaitForStopsOnError(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), clock.RealClock{}, time.Millisecond, 0, func(context.Context) (bool, error) {
		calls++
		return false, errors.New("cluster not found")
	})
	assert.EqualError(t, err, "cluster not found")
	assert.Equal(t, 1, calls)
}
