package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

type Config struct {
	Logger    *slog.Logger       `json:"-"`
	Clock     clock.PassiveClock `json:"-"`
	Inventory Inventory          `json:"-"`

	// SweepMinInterval throttles the sweep run by inspections of the same tenant. Zero sweeps on
	// every inspection.
	SweepMinInterval time.Duration `json:"sweep-min-interval"`
	// SweepConcurrency bounds how many tenants SweepAll processes at once.
	SweepConcurrency int `json:"sweep-concurrency"`
}

func DefaultConfig() Config {
	return Config{
		Logger:           slog.Default(),
		Clock:            clock.RealClock{},
		SweepMinInterval: 0,
		SweepConcurrency: 4,
	}
}

func Validate(config Config) error {
	if config.Logger == nil {
		return fmt.Errorf("logger must be set")
	}
	if config.Clock == nil {
		return fmt.Errorf("clock must be set")
	}
	if config.SweepMinInterval < 0 {
		return fmt.Errorf("sweep-min-interval must not be negative")
	}
	if config.SweepConcurrency < 1 {
		return fmt.Errorf("sweep-concurrency must be greater than 0")
	}
	return nil
}
