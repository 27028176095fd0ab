// Package dedup rejects previously seen event identifiers.
//
// The window is bounded: only the most recent N ids are remembered, evicted
// oldest first. An id that falls out of the window is accepted again, so
// deduplication is best-effort beyond N and exactly-once within it.
package dedup

import "sync"

// DefaultSize is the default number of recent event ids remembered.
const DefaultSize = 1000

// Deduplicator remembers the N most recent event ids.
//
// Thread-safety: all methods are safe for concurrent use.
type Deduplicator struct {
	mu   sync.Mutex
	size int
	seen map[string]struct{}
	ring []string // insertion order; ring[head] is the oldest once full
	head int
}

// New creates a Deduplicator remembering up to size ids.
// A non-positive size falls back to DefaultSize.
func New(size int) *Deduplicator {
	if size <= 0 {
		size = DefaultSize
	}
	return &Deduplicator{
		size: size,
		seen: make(map[string]struct{}, size),
		ring: make([]string, 0, size),
	}
}

// IsDuplicate reports whether eventID was seen within the window.
// The first observation marks the id as seen and returns false.
func (d *Deduplicator) IsDuplicate(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[eventID]; ok {
		return true
	}

	if len(d.ring) < d.size {
		d.ring = append(d.ring, eventID)
	} else {
		delete(d.seen, d.ring[d.head])
		d.ring[d.head] = eventID
		d.head = (d.head + 1) % d.size
	}
	d.seen[eventID] = struct{}{}
	return false
}

// Len returns the number of ids currently remembered.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Clear forgets every id.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{}, d.size)
	d.ring = d.ring[:0]
	d.head = 0
}
