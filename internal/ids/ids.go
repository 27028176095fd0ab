// Package ids mints identifiers for locally created records and envelopes.
package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers.
//
// UUIDv7 embeds a millisecond timestamp in the most significant bits, so ids
// minted later sort after ids minted earlier. Event ids and placeholder ids
// rely on this when they are listed in a journal.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if the random source fails, which uuid treats as unrecoverable.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Fixed returns predetermined identifiers, then falls back to a counter
// with the given prefix. Used by tests and scenarios for reproducible ids.
//
// Thread-safety: Fixed is safe for concurrent use.
type Fixed struct {
	mu     sync.Mutex
	ids    []string
	idx    int
	prefix string
	next   int
}

// NewFixed creates a generator that returns ids in order.
//
//	gen := NewFixed("tmp-1", "tmp-2")
//	gen.Generate() // "tmp-1"
//	gen.Generate() // "tmp-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

// NewSequence creates a generator yielding prefix-1, prefix-2, ... without
// limit.
func NewSequence(prefix string) *Fixed {
	return &Fixed{prefix: prefix}
}

// Generate returns the next identifier.
//
// Panics when a NewFixed generator runs out, so a test that mints more ids
// than it declared fails loudly.
func (g *Fixed) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx < len(g.ids) {
		id := g.ids[g.idx]
		g.idx++
		return id
	}
	if g.prefix == "" {
		panic("ids.Fixed: all ids exhausted")
	}
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next)
}

// Used reports how many ids have been handed out.
func (g *Fixed) Used() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idx + g.next
}
