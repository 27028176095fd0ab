package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/eventsync/internal/envelope"
)

// DefaultLaneSize is the buffer of each stream lane.
const DefaultLaneSize = 256

// ErrPumpStopped is returned by Submit after Stop (or before Start).
var ErrPumpStopped = errors.New("pump stopped")

// Pump feeds a Dispatcher from per-stream lanes. Each stream gets its own
// FIFO channel and goroutine, so one stream is handled strictly in submission
// order while a global semaphore bounds how many streams are inside Handle at
// once.
type Pump struct {
	d         *Dispatcher
	lanes     map[string]chan envelope.Envelope
	semaphore *semaphore.Weighted
	laneSize  int
	handled   atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PumpOption configures a Pump.
type PumpOption func(*Pump)

// WithLaneSize sets the buffer of each stream lane. Submit fails once a lane
// holds this many unhandled envelopes.
func WithLaneSize(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.laneSize = n
		}
	}
}

// NewPump creates a Pump that lets up to maxConcurrent streams run Handle
// simultaneously. maxConcurrent <= 0 means 1.
func NewPump(d *Dispatcher, maxConcurrent int64, opts ...PumpOption) *Pump {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	p := &Pump{
		d:         d,
		lanes:     make(map[string]chan envelope.Envelope),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		laneSize:  DefaultLaneSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start initialises the pump's context. Must be called before Submit.
func (p *Pump) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
}

// Submit adds an envelope to its stream's lane, creating the lane (and its
// goroutine) on first use. Unordered envelopes share one lane. Returns an
// error if the lane's buffer is full or the pump is not running.
func (p *Pump) Submit(env envelope.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrPumpStopped
	}

	lane, exists := p.lanes[env.StreamID]
	if !exists {
		lane = make(chan envelope.Envelope, p.laneSize)
		p.lanes[env.StreamID] = lane
		p.wg.Add(1)
		go p.processLane(env.StreamID, lane)
	}

	select {
	case lane <- env:
		return nil
	default:
		return fmt.Errorf("lane full for stream %q", env.StreamID)
	}
}

// processLane drains one stream lane, acquiring a semaphore slot around each
// Handle call.
func (p *Pump) processLane(streamID string, lane chan envelope.Envelope) {
	defer p.wg.Done()
	for env := range lane {
		if err := p.semaphore.Acquire(p.ctx, 1); err != nil {
			p.d.logger.Warn("pump lane abandoned", "stream", streamID, "error", err)
			return
		}
		// Validation errors are already logged and counted by Handle.
		_ = p.d.Handle(p.ctx, env)
		p.handled.Add(1)
		p.semaphore.Release(1)
	}
}

// Stop refuses new submissions, lets every lane drain, then cancels the
// pump's context. Cancelling the parent context instead abandons queued
// envelopes.
func (p *Pump) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	for id, lane := range p.lanes {
		close(lane)
		delete(p.lanes, id)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Handled returns how many envelopes the lanes have passed to Handle.
func (p *Pump) Handled() int64 { return p.handled.Load() }
