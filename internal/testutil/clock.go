// Package testutil provides deterministic stand-ins for the clock and id
// generator so tests and scenario runs produce identical rows every time.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe deterministic clock. Each call to Now returns
// the next instant, advancing by a fixed step, so version timestamps are
// reproducible across runs.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int
}

// NewClock creates a clock that returns start on the first call to Now
// and advances by step on each subsequent call. A zero step freezes the
// clock at start.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{start: start, step: step}
}

// Now returns the next instant. Pass this method as the clock function of
// a service under test.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return now
}

// Current returns the instant the next Now call would produce, without
// advancing.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.calls) * c.step)
}

// Reset rewinds the clock to its start. After Reset, Now returns start
// again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
