package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/eventsync/internal/envelope"
)

// Meta is the write metadata stored alongside every record.
type Meta struct {
	// Ordered is false for local writes that carry no stream sequence.
	Ordered   bool   `json:"ordered"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	// Fingerprint is filled in by the store.
	Fingerprint string `json:"fingerprint"`

	order uint64
}

// Outcome describes what an upsert did.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeNoop     Outcome = "noop"
	OutcomeStale    Outcome = "stale"
)

// Changed reports whether the outcome modified the store.
func (o Outcome) Changed() bool {
	return o == OutcomeInserted || o == OutcomeUpdated
}

// IntegrityError reports a write that references an unknown parent record.
type IntegrityError struct {
	Collection string
	ID         string
	Ref        string
	RefID      string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s %s references unknown %s %s", e.Collection, e.ID, e.Ref, e.RefID)
}

// IsIntegrityError reports whether err wraps an *IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

type record[T any] struct {
	value T
	meta  Meta
}

// table is the id-keyed storage shared by the typed collections. Iteration
// order is insertion order, which keeps reconciliation deterministic.
type table[T any] struct {
	items       map[string]*record[T]
	counter     *uint64
	fingerprint func(T) any
}

func newTable[T any](counter *uint64, fingerprint func(T) any) *table[T] {
	return &table[T]{
		items:       make(map[string]*record[T]),
		counter:     counter,
		fingerprint: fingerprint,
	}
}

// put stores v under id unless it is a no-op or stale. The previous value is
// returned when one existed.
func (t *table[T]) put(id string, v T, meta Meta) (Outcome, *T, error) {
	fp, err := envelope.Fingerprint(envelope.DomainRecord, t.fingerprint(v))
	if err != nil {
		return "", nil, fmt.Errorf("put %s: %w", id, err)
	}
	meta.Fingerprint = fp

	existing, ok := t.items[id]
	if !ok {
		*t.counter++
		meta.order = *t.counter
		t.items[id] = &record[T]{value: v, meta: meta}
		return OutcomeInserted, nil, nil
	}

	if meta.Ordered && existing.meta.Ordered && meta.Seq < existing.meta.Seq {
		return OutcomeStale, &existing.value, nil
	}
	if existing.meta.Fingerprint == fp {
		return OutcomeNoop, &existing.value, nil
	}

	prev := existing.value
	meta.order = existing.meta.order
	existing.value = v
	existing.meta = meta
	return OutcomeUpdated, &prev, nil
}

// rehash recomputes a record's fingerprint after an in-place edit.
func (t *table[T]) rehash(r *record[T]) {
	if fp, err := envelope.Fingerprint(envelope.DomainRecord, t.fingerprint(r.value)); err == nil {
		r.meta.Fingerprint = fp
	}
}

func (t *table[T]) get(id string) (T, Meta, bool) {
	r, ok := t.items[id]
	if !ok {
		var zero T
		return zero, Meta{}, false
	}
	return r.value, r.meta, true
}

func (t *table[T]) delete(id string) (T, bool) {
	r, ok := t.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	delete(t.items, id)
	return r.value, true
}

// ordered returns the records for ids in insertion order.
func (t *table[T]) ordered(ids map[string]struct{}) []T {
	recs := make([]*record[T], 0, len(ids))
	for id := range ids {
		if r, ok := t.items[id]; ok {
			recs = append(recs, r)
		}
	}
	return sortRecords(recs)
}

func (t *table[T]) all() []T {
	recs := make([]*record[T], 0, len(t.items))
	for _, r := range t.items {
		recs = append(recs, r)
	}
	return sortRecords(recs)
}

func sortRecords[T any](recs []*record[T]) []T {
	sort.Slice(recs, func(i, j int) bool { return recs[i].meta.order < recs[j].meta.order })
	out := make([]T, len(recs))
	for i, r := range recs {
		out[i] = r.value
	}
	return out
}

// index is a one-to-many secondary index.
type index map[string]map[string]struct{}

func (ix index) add(key, id string) {
	if key == "" {
		return
	}
	set, ok := ix[key]
	if !ok {
		set = make(map[string]struct{})
		ix[key] = set
	}
	set[id] = struct{}{}
}

func (ix index) remove(key, id string) {
	set, ok := ix[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(ix, key)
	}
}
