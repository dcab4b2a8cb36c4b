// Package clock supplies millisecond timestamps for keystroke events.
//
// Timing metrics only ever look at differences between timestamps, so the
// origin is arbitrary. The clock must not jump backwards when the wall
// clock is adjusted.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in milliseconds.
type Clock interface {
	Now() float64
}

// Func adapts a function to Clock.
type Func func() float64

func (f Func) Now() float64 { return f() }

// Monotonic measures milliseconds since its creation on the platform
// monotonic clock.
type Monotonic struct {
	origin int64
}

// NewMonotonic starts a clock at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{origin: monotonicNanos()}
}

// Now implements Clock.
func (m *Monotonic) Now() float64 {
	return float64(monotonicNanos()-m.origin) / float64(time.Millisecond)
}

// Manual is a clock moved explicitly by tests and replays.
type Manual struct {
	mu  sync.Mutex
	now float64
}

// NewManual starts a manual clock at ms.
func NewManual(ms float64) *Manual {
	return &Manual{now: ms}
}

// Now implements Clock.
func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to ms. Moving backwards is allowed.
func (m *Manual) Set(ms float64) {
	m.mu.Lock()
	m.now = ms
	m.mu.Unlock()
}

// Advance moves the clock forward by ms and returns the new time.
func (m *Manual) Advance(ms float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += ms
	return m.now
}
