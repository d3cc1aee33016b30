package util

import "sync"

// RingBuffer keeps the last N pushed values. Safe for concurrent use.
type RingBuffer[T any] struct {
	mu   sync.RWMutex
	buf  []T
	next int // slot for the next Push once buf is full
	max  int
}

// NewRingBuffer returns a buffer holding at most capacity values. A capacity
// below one is treated as one.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, 0, capacity), max: capacity}
}

// Push stores item, evicting the oldest value when full.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < r.max {
		r.buf = append(r.buf, item)
		return
	}
	r.buf[r.next] = item
	r.next = (r.next + 1) % r.max
}

// Snapshot copies every value, oldest first.
func (r *RingBuffer[T]) Snapshot() []T { return r.Tail(0) }

// Tail copies the newest n values, oldest first. n <= 0 means all.
func (r *RingBuffer[T]) Tail(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := len(r.buf)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.next+size-n+i)%size]
	}
	return out
}

// Filter copies the values keep accepts, oldest first.
func (r *RingBuffer[T]) Filter(keep func(T) bool) []T {
	var out []T
	for _, v := range r.Snapshot() {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}
