// Package scheduler decides when a recomputation requested by a keystroke
// actually runs.
package scheduler

import (
	"fmt"
	"sync"
	"time"
)

// DefaultDelay is the fallback deferral when no idle hook is available.
const DefaultDelay = 50 * time.Millisecond

// Scheduler runs requested work now or later.
type Scheduler interface {
	// Schedule requests that fn run. Implementations may merge requests.
	Schedule(fn func())
	// Cancel drops any pending request.
	Cancel()
}

// Mode selects a scheduling strategy by name.
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeDeferred  Mode = "deferred"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeImmediate, ModeDeferred:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown schedule mode: %s", s)
	}
}

// New returns the scheduler for mode. hook may be nil.
func New(mode Mode, delay time.Duration, hook IdleHook) (Scheduler, error) {
	switch mode {
	case ModeImmediate:
		return Immediate{}, nil
	case ModeDeferred:
		return NewCoalesced(delay, hook), nil
	default:
		return nil, fmt.Errorf("unknown schedule mode: %s", mode)
	}
}

// Immediate runs work synchronously on the caller's goroutine.
type Immediate struct{}

func (Immediate) Schedule(fn func()) { fn() }
func (Immediate) Cancel()            {}

// IdleHook asks the host to call fn when it is idle. The returned function
// withdraws the request; it must be safe to call after fn has run.
type IdleHook func(fn func()) (cancel func())

// Coalesced keeps at most one request pending. Requests made while one is
// pending replace its callback without re-arming, so a burst of keystrokes
// produces one recomputation.
type Coalesced struct {
	mu    sync.Mutex
	delay time.Duration
	hook  IdleHook

	gen        uint64
	pending    func()
	timer      *time.Timer
	cancelHook func()
}

// NewCoalesced creates a coalescing scheduler. A non-nil hook is preferred;
// otherwise a timer fires after delay (DefaultDelay when delay <= 0).
func NewCoalesced(delay time.Duration, hook IdleHook) *Coalesced {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Coalesced{delay: delay, hook: hook}
}

// Schedule implements Scheduler.
func (c *Coalesced) Schedule(fn func()) {
	c.mu.Lock()
	armed := c.pending != nil
	c.pending = fn
	if armed {
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	if c.hook == nil {
		c.timer = time.AfterFunc(c.delay, func() { c.fire(gen) })
		c.mu.Unlock()
		return
	}
	hook := c.hook
	c.mu.Unlock()

	// The hook may run the callback before returning.
	cancel := hook(func() { c.fire(gen) })

	c.mu.Lock()
	if gen == c.gen && c.pending != nil {
		c.cancelHook = cancel
	}
	c.mu.Unlock()
}

// Cancel implements Scheduler.
func (c *Coalesced) Cancel() {
	c.mu.Lock()
	c.gen++
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	cancel := c.cancelHook
	c.cancelHook = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Pending reports whether a request is waiting to run.
func (c *Coalesced) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Coalesced) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.pending == nil {
		c.mu.Unlock()
		return
	}
	fn := c.pending
	c.pending = nil
	c.timer = nil
	c.cancelHook = nil
	c.mu.Unlock()

	fn()
}
