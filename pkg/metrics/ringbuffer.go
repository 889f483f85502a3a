package metrics

import "sync"

// RingBuffer is a generic, thread-safe circular buffer. It overwrites the
// oldest entry when full.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	count int // number of valid items (0..cap)
	cap   int
}

// NewRingBuffer creates a ring buffer with the given capacity. Non-positive
// capacities fall back to DefaultRecentCapacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RingBuffer[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}
}

// Push appends an item, overwriting the oldest if full.
func (rb *RingBuffer[T]) Push(item T) {
	rb.mu.Lock()
	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.cap
	if rb.count < rb.cap {
		rb.count++
	}
	rb.mu.Unlock()
}

// PushBatch appends multiple items with a single lock acquisition.
func (rb *RingBuffer[T]) PushBatch(items []T) {
	if len(items) == 0 {
		return
	}
	rb.mu.Lock()
	for _, item := range items {
		rb.items[rb.head] = item
		rb.head = (rb.head + 1) % rb.cap
		if rb.count < rb.cap {
			rb.count++
		}
	}
	rb.mu.Unlock()
}

// Snapshot returns a copy of all valid items in chronological order, oldest
// first.
func (rb *RingBuffer[T]) Snapshot() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	result := make([]T, rb.count)
	start := (rb.head - rb.count + rb.cap) % rb.cap
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%rb.cap]
	}
	return result
}

// Len returns the number of valid items.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear empties the buffer.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	rb.head = 0
	rb.count = 0
	rb.mu.Unlock()
}

// DefaultRecentCapacity bounds the recent-execution ring. 512 samples cover
// a busy interactive day without holding command output in memory.
const DefaultRecentCapacity = 512
