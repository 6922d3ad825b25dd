package audit

import "sync"

// Ring is a fixed-capacity circular buffer of audit entries. Appends past
// capacity evict the oldest entry; the buffer is never reallocated.
type Ring struct {
	mu    sync.RWMutex
	buf   []*Entry
	head  int
	count int
}

// NewRing creates a ring buffer holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]*Entry, capacity)}
}

// Push appends an entry, evicting the oldest when the ring is full.
func (r *Ring) Push(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns the buffered entries in insertion order, oldest first.
func (r *Ring) Snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the fixed buffer capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}
