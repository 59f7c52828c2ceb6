package main

import (
	"context"
	"time"

	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/server/log"
	"k8s.io/utils/clock"
)

// runSweeper opens the pending orders of every tenant on each tick, so that orders admitted by
// freed quota do not wait for their workload to be read. It returns once ctx is cancelled.
func runSweeper(ctx context.Context, s *scheduler.Scheduler, clk clock.WithTicker, interval time.Duration) error {
	if interval <= 0 {
		log.Info("Periodic sweep disabled")
		return nil
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		opened, err := s.SweepAll(ctx)
		if err != nil {
			log.Warn("Sweep failed", "opened", opened, "error", err)
			continue
		}
		if opened > 0 {
			log.Info("Sweep opened pending orders", "opened", opened)
		}
	}
}
