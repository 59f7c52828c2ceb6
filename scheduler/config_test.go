package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateDefaultConfig(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidateSweepConcurrencyMustBePositive(t *testing.T) {
	config := DefaultConfig()
	config.SweepConcurrency = 0
	err := Validate(config)
	assert.EqualError(t, err, "sweep-concurrency must be greater than 0")
}

func TestValidateSweepMinIntervalMustNotBeNegative(t *testing.T) {
	config := DefaultConfig()
	config.SweepMinInterval = -time.Second
	err := Validate(config)
	assert.EqualError(t, err, "sweep-min-interval must not be negative")
}

func TestValidateLoggerRequired(t *testing.T) {
	config := DefaultConfig()
	config.Logger = nil
	err := Validate(config)
	assert.EqualError(t, err, "logger must be set")
}
