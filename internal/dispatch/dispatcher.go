package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/eventsync/internal/config"
	"github.com/roach88/eventsync/internal/correlate"
	"github.com/roach88/eventsync/internal/dedup"
	"github.com/roach88/eventsync/internal/envelope"
	"github.com/roach88/eventsync/internal/ids"
	"github.com/roach88/eventsync/internal/journal"
	"github.com/roach88/eventsync/internal/ordering"
	"github.com/roach88/eventsync/internal/reconcile"
	"github.com/roach88/eventsync/internal/state"
)

// Clock supplies wall time for placeholders, sweeps and journal entries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Recorder persists envelope outcomes. Implemented by *journal.Journal.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (bool, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfig sets ordering, dedup and correlation limits.
func WithConfig(cfg config.Config) Option {
	return func(d *Dispatcher) { d.cfg = cfg }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithNotifier sets where auxiliary envelopes are forwarded. Default:
// discarded (still counted).
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithJournal records every outcome to r.
func WithJournal(r Recorder) Option {
	return func(d *Dispatcher) { d.journal = r }
}

// WithClock sets the wall clock. Default: time.Now.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithScheduler sets the gap timer scheduler. Default: time.AfterFunc.
func WithScheduler(s ordering.Scheduler) Option {
	return func(d *Dispatcher) { d.scheduler = s }
}

// WithIDGenerator sets the generator for placeholder ids. Default: UUIDv7.
func WithIDGenerator(g ids.Generator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// Dispatcher applies envelopes to a state.Store.
//
// Thread-safety: all methods are safe for concurrent use. Work on one stream
// is serialized; work on different streams is not.
type Dispatcher struct {
	store     *state.Store
	cfg       config.Config
	logger    *slog.Logger
	notifier  Notifier
	journal   Recorder
	clock     Clock
	scheduler ordering.Scheduler
	ids       ids.Generator

	dedup  *dedup.Deduplicator
	buffer *ordering.Buffer
	engine *reconcile.Engine

	// Gap timers fire without a caller; their work runs under this context.
	baseCtx context.Context

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	stats counters
}

// New creates a Dispatcher over st.
func New(st *state.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     st,
		cfg:       config.Default(),
		logger:    slog.Default(),
		notifier:  discardNotifier{},
		clock:     systemClock{},
		scheduler: ordering.SystemScheduler{},
		ids:       ids.UUIDv7{},
		baseCtx:   context.Background(),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.dedup = dedup.New(d.cfg.Dedup.CacheSize)
	d.buffer = ordering.New(ordering.Options{
		Timeout:      d.cfg.OrderingTimeout(),
		MaxQueueSize: d.cfg.Ordering.MaxQueueSize,
		Scheduler:    d.scheduler,
		Logger:       d.logger,
	}, d.expire)
	d.engine = reconcile.NewEngine(correlate.New(d.cfg.CorrelationWindow()))

	return d
}

// Store returns the store the dispatcher writes to.
func (d *Dispatcher) Store() *state.Store { return d.store }

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats { return d.stats.snapshot() }

// streamLock returns the mutex for a stream, creating one on first use.
// Unordered envelopes share the "" lock.
func (d *Dispatcher) streamLock(streamID string) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()

	if lock, ok := d.locks[streamID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	d.locks[streamID] = lock
	return lock
}

func (d *Dispatcher) nowMS() int64 { return d.clock.Now().UnixMilli() }

// Handle runs one envelope through the pipeline. Only validation failures
// are returned; every later failure is logged, counted and journaled.
func (d *Dispatcher) Handle(ctx context.Context, env envelope.Envelope) error {
	d.stats.received.Add(1)

	if err := envelope.Validate(env); err != nil {
		d.stats.malformed.Add(1)
		d.logger.Warn("malformed envelope dropped",
			"event", env.EventID,
			"type", env.Type,
			"error", err,
		)
		d.record(ctx, env, journal.OutcomeMalformed, err.Error())
		return err
	}

	lock := d.streamLock(env.StreamID)
	lock.Lock()
	defer lock.Unlock()

	if d.dedup.IsDuplicate(env.EventID) {
		d.stats.duplicates.Add(1)
		d.logger.Debug("duplicate envelope dropped", "event", env.EventID, "type", env.Type)
		d.record(ctx, env, journal.OutcomeDuplicate, "")
		return nil
	}

	released, status := d.buffer.Add(env)
	switch status {
	case ordering.StatusQueued:
		d.stats.queued.Add(1)
		d.logger.Debug("envelope queued behind gap",
			"stream", env.StreamID,
			"seq", env.Sequence,
			"pending", d.buffer.Pending(env.StreamID),
		)
		d.record(ctx, env, journal.OutcomeQueued, "")
		return nil
	case ordering.StatusStale:
		d.stats.stale.Add(1)
		d.logger.Debug("stale envelope dropped", "stream", env.StreamID, "seq", env.Sequence)
		d.record(ctx, env, journal.OutcomeStale, "already processed")
		return nil
	case ordering.StatusForced:
		d.markForced(ctx, released, "capacity")
	}

	d.apply(ctx, released)
	return nil
}

// expire is the ordering buffer's gap timer callback.
func (d *Dispatcher) expire(streamID string) {
	if n := d.flush(d.baseCtx, streamID, "timeout"); n > 0 {
		d.logger.Info("ordering gap timed out", "stream", streamID, "released", n)
	}
}

// Flush force-releases everything a stream holds behind a gap, as if its
// gap timer had fired. Returns how many envelopes were released.
func (d *Dispatcher) Flush(ctx context.Context, streamID string) int {
	return d.flush(ctx, streamID, "flush")
}

func (d *Dispatcher) flush(ctx context.Context, streamID, reason string) int {
	lock := d.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()

	released := d.buffer.Flush(streamID)
	if len(released) == 0 {
		return 0
	}
	d.markForced(ctx, released, reason)
	d.apply(ctx, released)
	return len(released)
}

func (d *Dispatcher) markForced(ctx context.Context, released []envelope.Envelope, reason string) {
	d.stats.forced.Add(int64(len(released)))
	for _, env := range released {
		d.record(ctx, env, journal.OutcomeForced, reason)
	}
}

// result is what applying one released envelope produced.
type result struct {
	env     envelope.Envelope
	outcome journal.Outcome
	detail  string
	err     error
}

// apply routes a released run inside one store batch. Forwarding, stream
// teardown and journaling happen after the batch commits.
func (d *Dispatcher) apply(ctx context.Context, envs []envelope.Envelope) {
	if len(envs) == 0 {
		return
	}
	now := d.nowMS()

	results := make([]result, 0, len(envs))
	var closed []string

	err := d.store.Update(func(tx *state.Tx) error {
		for _, env := range envs {
			r, deleted := d.applyOne(tx, env, now)
			results = append(results, r)
			if deleted != "" {
				closed = append(closed, deleted)
			}
		}
		return nil
	})
	if err != nil {
		d.logger.Error("store batch failed", "envelopes", len(envs), "error", err)
	}

	for _, id := range closed {
		d.buffer.ClearStream(id)
	}

	for _, r := range results {
		switch r.outcome {
		case journal.OutcomeApplied:
			d.stats.applied.Add(1)
		case journal.OutcomeNoop:
			d.stats.noops.Add(1)
		case journal.OutcomeStale:
			d.stats.stale.Add(1)
		case journal.OutcomeRejected:
			d.stats.rejected.Add(1)
			d.logger.Warn("envelope rejected", "event", r.env.EventID, "type", r.env.Type, "error", r.err)
		case journal.OutcomeFailed:
			d.stats.failed.Add(1)
			d.logger.Error("envelope handler failed", "event", r.env.EventID, "type", r.env.Type, "error", r.err)
		case journal.OutcomeForwarded:
			d.stats.forwarded.Add(1)
			if err := d.notifier.Notify(ctx, r.env); err != nil {
				d.logger.Warn("notify failed", "event", r.env.EventID, "type", r.env.Type, "error", err)
			}
		}

		detail := r.detail
		if r.err != nil {
			detail = r.err.Error()
		}
		d.record(ctx, r.env, r.outcome, detail)
	}
}

// applyOne routes one envelope. A panic is converted to a failed result so
// the rest of the batch still applies. Writes the envelope made before the
// panic are kept, like writes before a returned error. deleted is the stream
// id of a removed session.
func (d *Dispatcher) applyOne(tx *state.Tx, env envelope.Envelope, now int64) (r result, deleted string) {
	defer func() {
		if p := recover(); p != nil {
			r = result{
				env:     env,
				outcome: journal.OutcomeFailed,
				err: &HandlerError{
					Code:     ErrCodePanic,
					Type:     env.Type,
					EventID:  env.EventID,
					StreamID: env.StreamID,
					Message:  fmt.Sprint(p),
				},
			}
			deleted = ""
		}
	}()

	meta := state.Meta{Ordered: env.Ordered(), Seq: env.Sequence, Timestamp: env.Timestamp}

	outcome, deleted, err := d.route(tx, env, meta, now)
	r = result{env: env, outcome: outcome}
	switch {
	case errors.Is(err, ErrUnknownEventType):
		r.outcome = journal.OutcomeForwarded
	case err != nil:
		r.err = classify(env, err)
		if IsRejected(r.err) {
			r.outcome = journal.OutcomeRejected
		} else {
			r.outcome = journal.OutcomeFailed
		}
	}
	return r, deleted
}

// classify wraps a raw handler error into a HandlerError.
func classify(env envelope.Envelope, err error) error {
	var he *HandlerError
	if errors.As(err, &he) {
		return err
	}
	code := ErrCodeStore
	if state.IsIntegrityError(err) {
		code = ErrCodeRejected
	}
	return &HandlerError{
		Code:     code,
		Type:     env.Type,
		EventID:  env.EventID,
		StreamID: env.StreamID,
		Message:  err.Error(),
		Err:      err,
	}
}

// record journals one outcome. Journal failures are logged and ignored.
func (d *Dispatcher) record(ctx context.Context, env envelope.Envelope, outcome journal.Outcome, detail string) {
	if d.journal == nil {
		return
	}
	entry := journal.Entry{
		EventID:    env.EventID,
		StreamID:   env.StreamID,
		Type:       env.Type,
		Outcome:    outcome,
		Detail:     detail,
		RecordedAt: d.nowMS(),
	}
	if env.Ordered() {
		seq := env.Sequence
		entry.Sequence = &seq
	}
	if _, err := d.journal.Record(ctx, entry); err != nil {
		d.logger.Warn("journal write failed", "event", env.EventID, "outcome", outcome, "error", err)
	}
}

// Resume sets where a stream continues after a reconnect: lastSeq+1 is the
// next contiguous sequence.
func (d *Dispatcher) Resume(streamID string, lastSeq int64) {
	lock := d.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()
	d.buffer.Resume(streamID, lastSeq)
}

// CloseStream cancels a stream's gap timer and discards its queued envelopes
// without applying them.
func (d *Dispatcher) CloseStream(streamID string) {
	lock := d.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()

	if n := d.buffer.Pending(streamID); n > 0 {
		d.logger.Info("stream closed with queued envelopes", "stream", streamID, "discarded", n)
	}
	d.buffer.ClearStream(streamID)
}

// Pending returns how many envelopes a stream holds behind a gap.
func (d *Dispatcher) Pending(streamID string) int {
	return d.buffer.Pending(streamID)
}

// Close cancels every gap timer and discards all queued envelopes.
func (d *Dispatcher) Close() {
	d.buffer.Clear()
}
