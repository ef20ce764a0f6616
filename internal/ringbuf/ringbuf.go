// Package ringbuf provides the fixed-capacity tick ring owned by one symbol
// worker. Push never fails: once full, the oldest tick is overwritten.
// Only the owning goroutine may call Push and Recent; Len, Cap and
// Overwritten are atomic and safe to read from anywhere (metrics, stats).
package ringbuf

import (
	"sync/atomic"

	"tickinsight/internal/model"
)

// TickBuffer is a power-of-two ring of the most recent ticks of one symbol.
type TickBuffer struct {
	buf  []model.Tick
	mask uint64

	head        atomic.Uint64 // total ticks ever pushed
	overwritten atomic.Uint64
}

// New creates a buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *TickBuffer {
	size := nextPow2(capacity)
	if size < 2 {
		size = 2
	}
	return &TickBuffer{
		buf:  make([]model.Tick, size),
		mask: uint64(size - 1),
	}
}

// Push records a tick, overwriting the oldest one when full.
func (r *TickBuffer) Push(t model.Tick) {
	head := r.head.Load()
	if head >= uint64(len(r.buf)) {
		r.overwritten.Add(1)
	}
	r.buf[head&r.mask] = t
	r.head.Store(head + 1)
}

// Recent returns up to n most recent ticks, oldest first, as a copy.
// n <= 0 returns everything retained.
func (r *TickBuffer) Recent(n int) []model.Tick {
	size := r.Len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]model.Tick, n)
	head := r.head.Load()
	start := head - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+uint64(i))&r.mask]
	}
	return out
}

// Len returns the number of retained ticks.
func (r *TickBuffer) Len() int {
	head := r.head.Load()
	if head > uint64(len(r.buf)) {
		return len(r.buf)
	}
	return int(head)
}

// Cap returns the buffer capacity.
func (r *TickBuffer) Cap() int {
	return len(r.buf)
}

// Total returns the number of ticks ever pushed.
func (r *TickBuffer) Total() uint64 {
	return r.head.Load()
}

// Overwritten returns how many ticks were evicted by newer ones.
func (r *TickBuffer) Overwritten() uint64 {
	return r.overwritten.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
