package model

import (
	"sync"
	"time"
)

// Clock provides time for timestamps and expiry checks, so tests can control
// it deterministically.
type Clock interface {
	Now() time.Time
}

// AutoClock uses real time.
type AutoClock struct{}

// NewAutoClock creates a clock that uses real time.
func NewAutoClock() *AutoClock { return &AutoClock{} }

func (c *AutoClock) Now() time.Time { return time.Now() }

// ManualClock provides deterministic time control for testing.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock creates a clock with manual time control.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
