package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock reports after reset.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe wall clock for tests that advances by
// a fixed step on every read.
//
// Stores take a func() time.Time; pass clock.Now so that creation timestamps
// are identical across runs of the same scenario.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock whose first Now() returns Epoch+step.
// A non-positive step defaults to one second.
func NewDeterministicClock(step time.Duration) *DeterministicClock {
	if step <= 0 {
		step = time.Second
	}
	return &DeterministicClock{now: Epoch, step: step}
}

// Now advances the clock by one step and returns the new time.
//
// Monotonic: always returns a later time than the previous call.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Current returns the last time reported without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to Epoch.
//
// Used for test reuse. After Reset(), the next call to Now() returns Epoch+step.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
