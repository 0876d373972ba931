package twitch

import (
	"sync"
	"time"
)

// circuitState is a minimal 5-failures/30s breaker guarding the Helix
// client, per spec.md §4.6.2. Non-auth failures trip it; auth failures
// (401/403) are handled separately by the caller and never count here.
type circuitState struct {
	mu          sync.Mutex
	open        bool
	openedAt    time.Time
	failures    int
	cooldown    time.Duration
	halfOpen    bool
}

func newCircuit(cooldown time.Duration) *circuitState {
	return &circuitState{cooldown: cooldown}
}

// Allow reports whether a call may proceed, flipping Open->HalfOpen once
// the cooldown elapses.
func (c *circuitState) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return true
	}
	if time.Since(c.openedAt) >= c.cooldown {
		c.halfOpen = true
		return true
	}
	return false
}

func (c *circuitState) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.open = false
	c.halfOpen = false
}

func (c *circuitState) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halfOpen {
		c.open = true
		c.halfOpen = false
		c.openedAt = time.Now()
		return
	}

	c.failures++
	if c.failures >= 5 {
		c.open = true
		c.openedAt = time.Now()
	}
}
