package dispatch

import "sync/atomic"

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Received   int64 `json:"received"`
	Malformed  int64 `json:"malformed"`
	Duplicates int64 `json:"duplicates"`
	Stale      int64 `json:"stale"`
	Queued     int64 `json:"queued"`
	Applied    int64 `json:"applied"`
	Noops      int64 `json:"noops"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
	Forwarded  int64 `json:"forwarded"`
	Forced     int64 `json:"forced"`
}

type counters struct {
	received   atomic.Int64
	malformed  atomic.Int64
	duplicates atomic.Int64
	stale      atomic.Int64
	queued     atomic.Int64
	applied    atomic.Int64
	noops      atomic.Int64
	failed     atomic.Int64
	rejected   atomic.Int64
	forwarded  atomic.Int64
	forced     atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:   c.received.Load(),
		Malformed:  c.malformed.Load(),
		Duplicates: c.duplicates.Load(),
		Stale:      c.stale.Load(),
		Queued:     c.queued.Load(),
		Applied:    c.applied.Load(),
		Noops:      c.noops.Load(),
		Failed:     c.failed.Load(),
		Rejected:   c.rejected.Load(),
		Forwarded:  c.forwarded.Load(),
		Forced:     c.forced.Load(),
	}
}
