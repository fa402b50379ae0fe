// Package timeutil provides clock abstraction and deadline arithmetic for the
// proctoring service. Exam time limits are expressed in whole minutes, so the
// helpers here round the way the attempt lifecycle expects: down, never below zero.
// No external dependencies - uses only standard library.
package timeutil

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so that time-limit and expiry arithmetic can be
// tested deterministically. Production code uses RealClock; tests use FakeClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now returns the current wall-clock time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// NewRealClock creates a RealClock.
func NewRealClock() RealClock {
	return RealClock{}
}

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock frozen at the given instant.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the frozen instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to the given instant.
func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// MinutesUntil returns the number of whole minutes from now until deadline,
// rounded down. Returns 0 if the deadline is at or before now.
func MinutesUntil(now, deadline time.Time) int {
	if !deadline.After(now) {
		return 0
	}
	return int(deadline.Sub(now) / time.Minute)
}

// SecondsUntil returns the number of whole seconds from now until deadline,
// never negative.
func SecondsUntil(now, deadline time.Time) int {
	if !deadline.After(now) {
		return 0
	}
	return int(deadline.Sub(now) / time.Second)
}

// WholeMinutes converts a second count into whole minutes, rounded down.
// Negative inputs are treated as zero.
func WholeMinutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return seconds / 60
}

// IsPast reports whether deadline is at or before now. A nil deadline is never past.
func IsPast(now time.Time, deadline *time.Time) bool {
	return deadline != nil && !deadline.After(now)
}

// AddMinutes returns t shifted forward by the given number of minutes.
func AddMinutes(t time.Time, mins int) time.Time {
	return t.Add(time.Duration(mins) * time.Minute)
}
