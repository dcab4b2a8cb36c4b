// Package ringbuffer provides a fixed-capacity sliding window of timing samples.
//
// The buffer never grows: once full, each Push silently evicts the oldest
// value. Iteration is always oldest to newest.
package ringbuffer

// Buffer is a fixed-capacity ring of float64 values.
// It is not safe for concurrent use; owners serialise access.
type Buffer struct {
	values []float64
	head   int // next write position
	count  int
}

// New creates a buffer holding at most capacity values.
// A capacity below 1 is treated as 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		values: make([]float64, capacity),
	}
}

// Push appends v, overwriting the oldest value when the buffer is full.
func (b *Buffer) Push(v float64) {
	b.values[b.head] = v
	b.head = (b.head + 1) % len(b.values)
	if b.count < len(b.values) {
		b.count++
	}
}

// Len returns the number of values currently held.
func (b *Buffer) Len() int {
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.values)
}

// ForEach calls fn for every value, oldest first.
func (b *Buffer) ForEach(fn func(v float64)) {
	start := b.start()
	for i := 0; i < b.count; i++ {
		fn(b.values[(start+i)%len(b.values)])
	}
}

// ToSlice returns a copy of the held values, oldest first.
func (b *Buffer) ToSlice() []float64 {
	out := make([]float64, 0, b.count)
	b.ForEach(func(v float64) {
		out = append(out, v)
	})
	return out
}

// Clear empties the buffer without reallocating its storage.
func (b *Buffer) Clear() {
	b.head = 0
	b.count = 0
}

func (b *Buffer) start() int {
	if b.count < len(b.values) {
		return 0
	}
	return b.head
}
