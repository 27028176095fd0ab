// Package reconcile batches correlation results over whole collections.
//
// Given canonical records from the server and the local optimistic
// placeholders that might stand in for them, Reconcile decides which
// canonical records to upsert and which placeholders they supersede.
// Canonical data always wins; placeholders are never merged into it.
package reconcile

import (
	"time"

	"github.com/roach88/eventsync/internal/correlate"
	"github.com/roach88/eventsync/internal/model"
)

// MatchFunc finds the best candidate for a canonical record.
type MatchFunc[T model.Entity] func(canonical T, candidates []T) (correlate.Match[T], bool)

// Pair links a canonical record to the placeholder it superseded.
type Pair[T model.Entity] struct {
	Canonical  T
	Superseded T
	Confidence correlate.Confidence
	Strategy   string
}

// Stats summarizes a reconciliation pass.
type Stats struct {
	TotalCanonical  int            `json:"totalCanonical"`
	TotalOptimistic int            `json:"totalOptimistic"`
	Matched         int            `json:"matched"`
	Unmatched       int            `json:"unmatched"`
	Stale           int            `json:"stale"`
	Strategies      map[string]int `json:"strategies"`
}

// Result is the outcome of Reconcile.
type Result[T model.Entity] struct {
	ToUpsert []T
	ToRemove []string
	Matches  []Pair[T]
	Stats    Stats
}

// Reconcile matches each canonical record against at most one not yet
// consumed optimistic record.
//
//   - matched: the optimistic id goes to ToRemove, the canonical record to
//     ToUpsert.
//   - unmatched canonical: upserted anyway.
//   - unmatched optimistic: left untouched; counted stale when older than the
//     window at now (epoch ms).
//
// Each optimistic record is consumed at most once (first match wins).
func Reconcile[T model.Entity](canonical, optimistic []T, match MatchFunc[T], now int64, window time.Duration) Result[T] {
	res := Result[T]{
		ToUpsert: make([]T, 0, len(canonical)),
		Stats: Stats{
			TotalCanonical:  len(canonical),
			TotalOptimistic: len(optimistic),
			Strategies:      make(map[string]int),
		},
	}

	consumed := make(map[string]bool, len(optimistic))
	available := make([]T, 0, len(optimistic))

	for _, c := range canonical {
		available = available[:0]
		for _, o := range optimistic {
			if !consumed[o.EntityID()] {
				available = append(available, o)
			}
		}

		m, ok := match(c, available)
		if ok {
			consumed[m.Entity.EntityID()] = true
			res.ToRemove = append(res.ToRemove, m.Entity.EntityID())
			res.Matches = append(res.Matches, Pair[T]{
				Canonical:  c,
				Superseded: m.Entity,
				Confidence: m.Confidence,
				Strategy:   m.Strategy,
			})
			res.Stats.Matched++
			res.Stats.Strategies[m.Strategy]++
		}
		res.ToUpsert = append(res.ToUpsert, c)
	}

	for _, o := range optimistic {
		if consumed[o.EntityID()] {
			continue
		}
		res.Stats.Unmatched++
		if isOlderThan(o, now, window) {
			res.Stats.Stale++
		}
	}

	return res
}

// FindOrphans returns optimistic records older than maxAge at now (epoch ms).
// A non-positive maxAge falls back to correlate.DefaultWindow.
func FindOrphans[T model.Entity](entities []T, now int64, maxAge time.Duration) []T {
	if maxAge <= 0 {
		maxAge = correlate.DefaultWindow
	}
	var orphans []T
	for _, e := range entities {
		if model.IsOptimistic(e) && isOlderThan(e, now, maxAge) {
			orphans = append(orphans, e)
		}
	}
	return orphans
}

func isOlderThan(e model.Entity, now int64, age time.Duration) bool {
	meta := e.Optimistic()
	if meta == nil || !meta.Optimistic {
		return false
	}
	return meta.Timestamp < now-age.Milliseconds()
}
