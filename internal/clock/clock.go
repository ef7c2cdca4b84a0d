// Package clock provides the monotonic millisecond tick counter that drives the
// control loop. Ticks are unsigned and wrap; all comparisons go through Sub,
// which interprets the difference as a signed quantity so that a timer started
// just before the wrap still measures correctly just after it.
package clock

import (
	"sync"
	"time"
)

// Tick is a monotonic millisecond counter.
type Tick uint32

// Sub returns the elapsed duration from start to t.
// The result is negative when start lies in the future.
func (t Tick) Sub(start Tick) time.Duration {
	return time.Duration(int32(t-start)) * time.Millisecond
}

// Add returns t advanced by d, truncated to whole milliseconds.
func (t Tick) Add(d time.Duration) Tick {
	return t + Tick(uint32(d/time.Millisecond))
}

// Source supplies the current tick.
type Source interface {
	Now() Tick
}

// Monotonic derives ticks from the Go runtime's monotonic clock.
type Monotonic struct {
	start  time.Time
	offset Tick
}

// NewMonotonic returns a Monotonic source starting at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// NewMonotonicAt returns a Monotonic source whose first tick is offset.
// Useful for exercising the wrap on real hardware.
func NewMonotonicAt(offset Tick) *Monotonic {
	return &Monotonic{start: time.Now(), offset: offset}
}

// Now returns the current tick.
func (m *Monotonic) Now() Tick {
	return m.offset + Tick(uint32(time.Since(m.start)/time.Millisecond))
}

// Fake is a manually advanced Source for tests.
type Fake struct {
	mu  sync.Mutex
	now Tick
}

// NewFake returns a Fake positioned at start.
func NewFake(start Tick) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake tick.
func (f *Fake) Now() Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d and returns the new tick.
func (f *Fake) Advance(d time.Duration) Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Set positions the fake clock at t.
func (f *Fake) Set(t Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
