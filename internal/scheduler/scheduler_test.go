package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualHook queues idle callbacks until the test flushes them.
type manualHook struct {
	mu        sync.Mutex
	queued    []func()
	cancelled int
}

func (h *manualHook) hook(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queued = append(h.queued, fn)
	return func() {
		h.mu.Lock()
		h.cancelled++
		h.mu.Unlock()
	}
}

func (h *manualHook) flush() {
	h.mu.Lock()
	q := h.queued
	h.queued = nil
	h.mu.Unlock()
	for _, fn := range q {
		fn()
	}
}

func (h *manualHook) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queued)
}

func TestImmediate(t *testing.T) {
	var s Scheduler = Immediate{}
	ran := 0
	s.Schedule(func() { ran++ })
	s.Schedule(func() { ran++ })
	s.Cancel()
	assert.Equal(t, 2, ran)
}

func TestCoalescedMergesBurst(t *testing.T) {
	h := &manualHook{}
	c := NewCoalesced(0, h.hook)

	var got []int
	for i := 1; i <= 5; i++ {
		i := i
		c.Schedule(func() { got = append(got, i) })
	}
	assert.Equal(t, 1, h.len(), "one idle request per burst")
	assert.True(t, c.Pending())

	h.flush()
	assert.Equal(t, []int{5}, got, "latest callback wins")
	assert.False(t, c.Pending())

	c.Schedule(func() { got = append(got, 6) })
	h.flush()
	assert.Equal(t, []int{5, 6}, got)
}

func TestCoalescedCancel(t *testing.T) {
	h := &manualHook{}
	c := NewCoalesced(0, h.hook)

	ran := false
	c.Schedule(func() { ran = true })
	c.Cancel()
	h.flush()

	assert.False(t, ran)
	assert.Equal(t, 1, h.cancelled)
	assert.False(t, c.Pending())
}

func TestCoalescedStaleCallbackIgnored(t *testing.T) {
	h := &manualHook{}
	c := NewCoalesced(0, h.hook)

	var got []string
	c.Schedule(func() { got = append(got, "first") })
	c.Cancel()
	c.Schedule(func() { got = append(got, "second") })

	h.flush()
	assert.Equal(t, []string{"second"}, got)
}

func TestCoalescedSynchronousHook(t *testing.T) {
	now := func(fn func()) func() {
		fn()
		return func() {}
	}
	c := NewCoalesced(0, now)

	ran := 0
	c.Schedule(func() { ran++ })
	c.Schedule(func() { ran++ })
	assert.Equal(t, 2, ran)
	assert.False(t, c.Pending())
}

func TestCoalescedTimerFallback(t *testing.T) {
	c := NewCoalesced(5*time.Millisecond, nil)

	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		c.Schedule(func() { calls.Add(1) })
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoalescedTimerCancel(t *testing.T) {
	c := NewCoalesced(10*time.Millisecond, nil)

	var calls atomic.Int32
	c.Schedule(func() { calls.Add(1) })
	c.Cancel()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDefaultDelay(t *testing.T) {
	assert.Equal(t, DefaultDelay, NewCoalesced(0, nil).delay)
	assert.Equal(t, DefaultDelay, NewCoalesced(-time.Second, nil).delay)
}

func TestNewAndParseMode(t *testing.T) {
	m, err := ParseMode("deferred")
	require.NoError(t, err)
	assert.Equal(t, ModeDeferred, m)

	_, err = ParseMode("eager")
	assert.Error(t, err)

	s, err := New(ModeImmediate, 0, nil)
	require.NoError(t, err)
	assert.IsType(t, Immediate{}, s)

	s, err = New(ModeDeferred, time.Millisecond, nil)
	require.NoError(t, err)
	assert.IsType(t, &Coalesced{}, s)

	_, err = New("later", 0, nil)
	assert.Error(t, err)
}
