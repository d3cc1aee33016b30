package util

import (
	"slices"
	"testing"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if got := r.Snapshot(); !slices.Equal(got, []int{3, 4, 5}) {
		t.Fatalf("Snapshot = %v", got)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestRingBufferTail(t *testing.T) {
	r := NewRingBuffer[int](4)
	if got := r.Tail(2); len(got) != 0 {
		t.Fatalf("empty Tail = %v", got)
	}
	r.Push(1)
	r.Push(2)
	if got := r.Tail(5); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("Tail(5) before wrap = %v", got)
	}
	for i := 3; i <= 6; i++ {
		r.Push(i)
	}
	if got := r.Tail(2); !slices.Equal(got, []int{5, 6}) {
		t.Fatalf("Tail(2) after wrap = %v", got)
	}
	if got := r.Tail(0); !slices.Equal(got, []int{3, 4, 5, 6}) {
		t.Fatalf("Tail(0) = %v", got)
	}
}

func TestRingBufferFilter(t *testing.T) {
	r := NewRingBuffer[int](0)
	r.Push(7)
	r.Push(8)
	if got := r.Snapshot(); !slices.Equal(got, []int{8}) {
		t.Fatalf("capacity clamp: %v", got)
	}

	r = NewRingBuffer[int](10)
	for i := 0; i < 10; i++ {
		r.Push(i)
	}
	even := r.Filter(func(v int) bool { return v%2 == 0 })
	if !slices.Equal(even, []int{0, 2, 4, 6, 8}) {
		t.Fatalf("Filter = %v", even)
	}
}
