// Package timeutil provides a testable abstraction over time operations.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// AfterFunc waits for the duration to elapse and then calls f.
	// The returned Timer can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a single deferred call.
type Timer interface {
	// Stop prevents the Timer from firing. It returns false if the call
	// has already run or the timer was already stopped.
	Stop() bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// AfterFunc calls f in its own goroutine once d has elapsed.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MockClock is a manually controlled clock for testing. Deferred calls
// scheduled with AfterFunc run synchronously inside Advance or Set, on
// the caller's goroutine, in deadline order.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*MockTimer
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set moves the mock clock to a specific time and fires anything that
// has become due. Moving backwards never fires timers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.fireDue()
}

// Advance moves the mock clock forward by d and runs every call that has
// become due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fireDue()
}

// Pending returns the number of scheduled calls that have neither fired
// nor been stopped.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.active() {
			n++
		}
	}
	return n
}

// AfterFunc schedules f to run once the mock time reaches now+d.
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTimer{
		deadline: c.now.Add(d),
		fn:       f,
	}
	c.timers = append(c.timers, t)
	return t
}

// fireDue runs expired timers outside the clock lock so callbacks may
// call back into the clock (for example to reschedule).
func (c *MockClock) fireDue() {
	for {
		c.mu.Lock()
		now := c.now
		var due []*MockTimer
		live := c.timers[:0]
		for _, t := range c.timers {
			switch {
			case !t.active():
			case !t.deadline.After(now):
				due = append(due, t)
			default:
				live = append(live, t)
			}
		}
		c.timers = live
		c.mu.Unlock()

		if len(due) == 0 {
			return
		}
		sort.SliceStable(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, t := range due {
			t.fire()
		}
	}
}

// MockTimer is a deferred call scheduled on a MockClock.
type MockTimer struct {
	mu       sync.Mutex
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

// Stop prevents the timer from firing.
func (t *MockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// Deadline returns the mock time at which the call is due.
func (t *MockTimer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

func (t *MockTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (t *MockTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
