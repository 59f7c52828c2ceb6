package reconciler

import (
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

type Config struct {
	Logger *slog.Logger     `json:"-"`
	Clock  clock.WithTicker `json:"-"`

	// PollInterval separates two polls of the open orders.
	PollInterval time.Duration `json:"poll-interval"`
	// DispatchTimeout bounds every call to the provisioning backend. Zero means no bound.
	DispatchTimeout time.Duration `json:"dispatch-timeout"`
	// StrictAck acknowledges an order as ERROR when its dispatch failed. By default orders are
	// acknowledged as FILLED whatever the dispatch outcome.
	StrictAck bool `json:"strict-ack"`
}

func DefaultConfig() Config {
	return Config{
		Logger:          slog.Default(),
		Clock:           clock.RealClock{},
		PollInterval:    2 * time.Second,
		DispatchTimeout: 30 * time.Minute,
		StrictAck:       false,
	}
}

func Validate(config Config) error {
	if config.Logger == nil {
		return fmt.Errorf("logger must be set")
	}
	if config.Clock == nil {
		return fmt.Errorf("clock must be set")
	}
	if config.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be greater than 0")
	}
	if config.DispatchTimeout < 0 {
		return fmt.Errorf("dispatch-timeout must not be negative")
	}
	return nil
}
