package integration

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced core.Clock for tests. Time only moves when
// Add is called, which also releases any timers whose deadline has passed.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Buffered so Add can fire the timer without a reader present.
	w := waiter{at: c.current.Add(d), ch: make(chan time.Time, 1)}
	c.waiters = append(c.waiters, w)
	return w.ch
}

func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Add advances the clock and fires every waiter whose deadline was reached.
func (c *FakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)

	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.at.After(c.current) {
			kept = append(kept, w)
			continue
		}
		w.ch <- c.current
	}
	c.waiters = kept
}
