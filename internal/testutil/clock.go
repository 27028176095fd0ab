package testutil

import (
	"sort"
	"sync"
	"time"
)

// Epoch is the default start time of a ManualClock: 2024-01-01T00:00:00Z.
var Epoch = time.UnixMilli(1704067200000).UTC()

// ManualClock is a deterministic clock and scheduler for tests.
//
// Time only moves when Advance is called. Callbacks registered with AfterFunc
// fire synchronously inside Advance, in deadline order (registration order
// breaks ties), on the goroutine that called Advance.
//
// ManualClock satisfies both dispatch.Clock and ordering.Scheduler.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run
// without the clock's lock held, so they may call back into the clock.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*manualTimer
}

type manualTimer struct {
	id       int
	deadline time.Time
	f        func()
}

// NewManualClock creates a clock starting at Epoch.
func NewManualClock() *ManualClock {
	return NewManualClockAt(Epoch)
}

// NewManualClockAt creates a clock starting at t.
func NewManualClockAt(t time.Time) *ManualClock {
	return &ManualClock{now: t, timers: make(map[int]*manualTimer)}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowMS returns the current manual time in epoch milliseconds.
func (c *ManualClock) NowMS() int64 {
	return c.Now().UnixMilli()
}

// AfterFunc registers f to run once the clock has advanced by d.
// The returned func cancels the callback; it reports whether the callback
// was still pending.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.timers[id] = &manualTimer{id: id, deadline: c.now.Add(d), f: f}

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.timers[id]; !ok {
			return false
		}
		delete(c.timers, id)
		return true
	}
}

// Advance moves the clock forward by d and fires every callback whose
// deadline has been reached.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	for {
		t, ok := c.popDue(now)
		if !ok {
			return
		}
		t.f()
	}
}

// popDue removes and returns the earliest due timer.
func (c *ManualClock) popDue(now time.Time) (*manualTimer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []*manualTimer
	for _, t := range c.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil, false
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	delete(c.timers, due[0].id)
	return due[0], true
}

// PendingTimers returns the number of registered, unfired callbacks.
func (c *ManualClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
