package scheduler

import (
	"sync"
	"time"
)

// Checkpoint remembers when each tenant was last swept.
//
// It is owned by the caller of Inspect, so that independent callers (an API server, a test, a
// one-shot CLI) never share bookkeeping by accident. A nil *Checkpoint disables throttling.
type Checkpoint struct {
	mu    sync.Mutex
	swept map[string]time.Time
}

func NewCheckpoint() *Checkpoint {
	return &Checkpoint{swept: make(map[string]time.Time)}
}

// Due reports whether the tenant was not swept within the last interval.
func (c *Checkpoint) Due(tenant string, now time.Time, interval time.Duration) bool {
	if c == nil || interval <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.swept[tenant]
	return !ok || now.Sub(last) >= interval
}

func (c *Checkpoint) Mark(tenant string, at time.Time) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.swept[tenant] = at
}

func (c *Checkpoint) Last(tenant string) (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.swept[tenant]
	return last, ok
}
