package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

var ErrWaitTimeout = errors.New("timed out")

// Pause waits for d, or until ctx is done. A non-positive d returns immediately.
func Pause(ctx context.Context, clock clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitFor checks cond every interval until it holds, fails, or timeout elapses. A zero timeout
// waits as long as ctx allows.
func WaitFor(ctx context.Context, clock clock.Clock, interval, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	start := clock.Now()

	for attempt := 1; ; attempt++ {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if timeout > 0 && clock.Since(start)+interval > timeout {
			return fmt.Errorf("%w after %s and %d attempts", ErrWaitTimeout, clock.Since(start).Round(time.Millisecond), attempt)
		}
		if err := Pause(ctx, clock, interval); err != nil {
			return err
		}
	}
}
