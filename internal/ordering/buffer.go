// Package ordering holds out-of-order envelopes per stream until they are
// contiguous.
//
// Each stream tracks the last processed sequence number and a sparse queue of
// envelopes that arrived ahead of a gap. A gap is never waited on forever:
//
//   - Capacity: when a stream's queue reaches MaxQueueSize, the whole queue is
//     released in ascending order regardless of gaps.
//   - Timeout: every queued envelope (re)arms a timer, so it fires Timeout
//     after the latest gap envelope. When it fires, the buffer calls the
//     ExpireFunc registered at construction; the owner then drains the stream
//     with Flush under its own per-stream confinement.
//
// Both escape valves favor liveness over strict order.
package ordering

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/eventsync/internal/envelope"
)

// Defaults for Options.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxQueueSize = 1000
)

// Status describes what Add did with an envelope.
type Status int

const (
	// StatusReleased means the envelope (and any contiguous run) was released.
	StatusReleased Status = iota + 1
	// StatusQueued means the envelope is waiting behind a gap.
	StatusQueued
	// StatusStale means the sequence was already processed or queued.
	StatusStale
	// StatusForced means the queue hit capacity and was released with gaps.
	StatusForced
	// StatusUnordered means the envelope bypassed ordering.
	StatusUnordered
)

func (s Status) String() string {
	switch s {
	case StatusReleased:
		return "released"
	case StatusQueued:
		return "queued"
	case StatusStale:
		return "stale"
	case StatusForced:
		return "forced"
	case StatusUnordered:
		return "unordered"
	default:
		return "unknown"
	}
}

// ExpireFunc is called (outside the buffer lock) when a stream's gap timer
// fires. The callee is expected to call Flush for the stream.
type ExpireFunc func(streamID string)

// Options configures a Buffer.
type Options struct {
	Timeout      time.Duration
	MaxQueueSize int
	Scheduler    Scheduler
	Logger       *slog.Logger
}

type streamState struct {
	last    int64
	started bool
	queue   map[int64]envelope.Envelope
	timer   StopFunc
	gen     uint64 // bumped whenever the timer is replaced or stopped
}

// Buffer is the per-stream sequence ordering buffer.
//
// Thread-safety: all methods are safe for concurrent use. Callers that need
// strict per-stream ordering across Add and Flush must confine each stream to
// one goroutine or hold their own per-stream lock around both calls.
type Buffer struct {
	mu       sync.Mutex
	opts     Options
	onExpire ExpireFunc
	streams  map[string]*streamState
}

// New creates a Buffer. A nil onExpire disables timers; callers must then
// poll Flush themselves.
func New(opts Options, onExpire ExpireFunc) *Buffer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultMaxQueueSize
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Buffer{
		opts:     opts,
		onExpire: onExpire,
		streams:  make(map[string]*streamState),
	}
}

func (b *Buffer) stream(id string) *streamState {
	st, ok := b.streams[id]
	if !ok {
		st = &streamState{queue: make(map[int64]envelope.Envelope)}
		b.streams[id] = st
	}
	return st
}

// Add offers an envelope and returns the envelopes releasable now, in
// ascending sequence order.
//
// A fresh stream expects sequence 1 next; sequence 0 is also accepted as the
// first envelope of a fresh stream. Use Resume to start a stream elsewhere.
func (b *Buffer) Add(env envelope.Envelope) ([]envelope.Envelope, Status) {
	if !env.Ordered() {
		return []envelope.Envelope{env}, StatusUnordered
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stream(env.StreamID)
	seq := env.Sequence

	contiguous := seq == st.last+1 || (!st.started && seq == 0)
	if !contiguous {
		if seq <= st.last {
			return nil, StatusStale
		}
		if _, queued := st.queue[seq]; queued {
			return nil, StatusStale
		}
	}

	if contiguous {
		released := []envelope.Envelope{env}
		st.last = seq
		st.started = true
		for {
			next, ok := st.queue[st.last+1]
			if !ok {
				break
			}
			delete(st.queue, st.last+1)
			released = append(released, next)
			st.last++
		}
		b.stopTimer(st)
		if len(st.queue) > 0 {
			b.armTimer(env.StreamID, st)
		}
		return released, StatusReleased
	}

	st.queue[seq] = env
	if len(st.queue) >= b.opts.MaxQueueSize {
		released := b.drain(st)
		b.opts.Logger.Warn("ordering queue at capacity, releasing with gaps",
			"stream", env.StreamID,
			"released", len(released),
			"last", st.last,
		)
		return released, StatusForced
	}

	// Every gap envelope restarts the wait.
	b.armTimer(env.StreamID, st)
	return nil, StatusQueued
}

// Flush force-releases everything queued for a stream in ascending order and
// advances the stream past the highest released sequence.
func (b *Buffer) Flush(streamID string) []envelope.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[streamID]
	if !ok || len(st.queue) == 0 {
		if ok {
			b.stopTimer(st)
		}
		return nil
	}
	released := b.drain(st)
	b.opts.Logger.Debug("ordering gap expired, released with gaps",
		"stream", streamID,
		"released", len(released),
		"last", st.last,
	)
	return released
}

// drain releases the whole queue. Caller must hold b.mu.
func (b *Buffer) drain(st *streamState) []envelope.Envelope {
	seqs := make([]int64, 0, len(st.queue))
	for seq := range st.queue {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)

	released := make([]envelope.Envelope, 0, len(seqs))
	for _, seq := range seqs {
		released = append(released, st.queue[seq])
		delete(st.queue, seq)
	}
	if highest := seqs[len(seqs)-1]; highest > st.last {
		st.last = highest
	}
	st.started = true
	b.stopTimer(st)
	return released
}

// armTimer schedules the expiry callback. Caller must hold b.mu.
func (b *Buffer) armTimer(streamID string, st *streamState) {
	if b.onExpire == nil {
		return
	}
	b.stopTimer(st)
	gen := st.gen
	st.timer = b.opts.Scheduler.AfterFunc(b.opts.Timeout, func() {
		b.expire(streamID, gen)
	})
}

// stopTimer cancels any pending timer. Caller must hold b.mu.
func (b *Buffer) stopTimer(st *streamState) {
	if st.timer != nil {
		st.timer()
		st.timer = nil
	}
	st.gen++
}

func (b *Buffer) expire(streamID string, gen uint64) {
	b.mu.Lock()
	st, ok := b.streams[streamID]
	if !ok || st.timer == nil || st.gen != gen {
		b.mu.Unlock()
		return
	}
	st.timer = nil
	b.mu.Unlock()

	b.onExpire(streamID)
}

// Resume sets a stream's baseline so that lastSeq+1 is the next contiguous
// sequence. Used after a reconnect when the transport knows where it resumed.
// Queued envelopes at or below lastSeq are discarded.
func (b *Buffer) Resume(streamID string, lastSeq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stream(streamID)
	st.last = lastSeq
	st.started = true
	for seq := range st.queue {
		if seq <= lastSeq {
			delete(st.queue, seq)
		}
	}
}

// ClearStream drops all state for a stream: the pending timer is cancelled and
// queued envelopes are discarded without being released.
func (b *Buffer) ClearStream(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.streams[streamID]; ok {
		b.stopTimer(st)
		delete(b.streams, streamID)
	}
}

// Clear drops all state for every stream.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, st := range b.streams {
		b.stopTimer(st)
	}
	b.streams = make(map[string]*streamState)
}

// Pending returns the number of envelopes queued for a stream.
func (b *Buffer) Pending(streamID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.streams[streamID]; ok {
		return len(st.queue)
	}
	return 0
}

// LastProcessed returns the last released sequence for a stream.
func (b *Buffer) LastProcessed(streamID string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[streamID]
	if !ok || !st.started {
		return 0, false
	}
	return st.last, true
}
